package main

import (
	"context"
	"log"
	"time"

	"threat-response/internal/app"
	"threat-response/internal/classifier"
	"threat-response/internal/config"
	"threat-response/internal/ledger"
	"threat-response/internal/ports/http"
	"threat-response/internal/repository/mongodb"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	logger, err := getLogger()
	if err != nil {
		log.Fatalln("setting up the logger failed: ", err)
		return
	}
	defer logger.Sync()

	logger.Info("application started")

	db, err := mongodb.NewConnection(logger, config.GetDbConnectionURI())
	if err != nil {
		logger.Error("failed to connect to the DB: " + err.Error())
		return
	}
	defer db.Disconnect()

	if err := db.EnsurePool(context.Background()); err != nil {
		logger.Error("failed to initialize the reward pool: " + err.Error())
		return
	}

	clf := classifier.NewClient(logger, config.GetClassifierAddr())
	gateway := ledger.NewClient(logger, config.GetLedgerAddr())

	a := app.NewApp(logger, db, clf, gateway)

	ser := http.NewServer(logger, a, config.GetPort())
	if err := ser.Run(); err != nil {
		logger.Error("failed to run the server: " + err.Error())
	}

	logger.Info("application finished")
}

func getLogger() (*zap.Logger, error) {
	options := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zap.FatalLevel),
	}

	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	config.Development = true
	config.Level.SetLevel(zap.DebugLevel)

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return logger.WithOptions(options...), nil
}
