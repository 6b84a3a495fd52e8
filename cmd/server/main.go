package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/taxaware/portfolio-engine/internal/config"
	"github.com/taxaware/portfolio-engine/internal/database"
	"github.com/taxaware/portfolio-engine/internal/modules/harvesting"
	"github.com/taxaware/portfolio-engine/internal/modules/optimization"
	"github.com/taxaware/portfolio-engine/internal/modules/rebalancing"
	"github.com/taxaware/portfolio-engine/internal/modules/riskmodel"
	"github.com/taxaware/portfolio-engine/internal/scheduler"
	"github.com/taxaware/portfolio-engine/internal/server"
	"github.com/taxaware/portfolio-engine/pkg/logger"
)

func main() {
	log := logger.New(logger.Config{
		Level:  "info",
		Pretty: true,
	})

	log.Info().Msg("Starting portfolio engine")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	analyticsDB, err := database.New(cfg.AnalyticsDatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open analytics database")
	}
	defer analyticsDB.Close()

	accountDB, err := database.New(cfg.AccountDatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open account database")
	}
	defer accountDB.Close()

	riskBuilder := riskmodel.NewBuilder(analyticsDB.Conn(), cfg, log)
	optimizer := optimization.NewOptimizer(analyticsDB.Conn(), cfg, log)
	harvester := harvesting.NewService(accountDB.Conn(), analyticsDB.Conn(), cfg, log)
	rebalancer := rebalancing.NewService(accountDB.Conn(), analyticsDB.Conn(), accountDB, harvester, optimizer, cfg, log)

	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	if err := registerJobs(sched, riskBuilder, rebalancer, accountDB, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}

	srv := server.New(server.Config{
		Port:        cfg.Port,
		Log:         log,
		AnalyticsDB: analyticsDB,
		AccountDB:   accountDB,
		Config:      cfg,
		DevMode:     cfg.DevMode,
		RiskBuilder: riskBuilder,
		Harvester:   harvester,
		Rebalancer:  rebalancer,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// registerJobs wires the monthly cycle: build the risk model on the first
// of the month, then sweep every account for a rebalance a few hours later
// once the new exposures/covariance are in place.
func registerJobs(
	sched *scheduler.Scheduler,
	riskBuilder *riskmodel.Builder,
	rebalancer *rebalancing.Service,
	accountDB *database.DB,
	log zerolog.Logger,
) error {
	if err := sched.AddJob("0 0 0 1 * *", &riskModelJob{builder: riskBuilder, log: log}); err != nil {
		return err
	}
	if err := sched.AddJob("0 0 6 1 * *", &rebalanceSweepJob{rebalancer: rebalancer, accountDB: accountDB, log: log}); err != nil {
		return err
	}
	return nil
}

// riskModelJob builds the current month's risk model.
type riskModelJob struct {
	builder *riskmodel.Builder
	log     zerolog.Logger
}

func (j *riskModelJob) Name() string { return "risk_model_build" }

func (j *riskModelJob) Run() error {
	now := time.Now().UTC()
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	_, err := j.builder.BuildMonth(context.Background(), month)
	return err
}

// rebalanceSweepJob rebalances every account in the account store.
type rebalanceSweepJob struct {
	rebalancer *rebalancing.Service
	accountDB  *database.DB
	log        zerolog.Logger
}

func (j *rebalanceSweepJob) Name() string { return "rebalance_sweep" }

func (j *rebalanceSweepJob) Run() error {
	rows, err := j.accountDB.Query(`SELECT id FROM accounts`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
	}

	ctx := context.Background()
	for _, id := range ids {
		if _, err := j.rebalancer.RebalanceAccount(ctx, id); err != nil {
			j.log.Error().Err(err).Int64("account_id", id).Msg("account rebalance failed")
		}
	}
	return nil
}
