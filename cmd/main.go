package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mqttbridge/internal/accessory"
	"mqttbridge/internal/clientmqtt"
	"mqttbridge/internal/config"
	"mqttbridge/internal/homeintegration"
	"mqttbridge/internal/logger"
	"mqttbridge/internal/mdns"
	"mqttbridge/internal/status"
	"github.com/spf13/pflag"
)

var (
	configFile string
	logLevel   string
)

func init() {
	pflag.StringVar(&configFile, "config", "configs/conf.toml", "Path to configuration file (.toml or .yaml)")
	pflag.StringVar(&logLevel, "log-level", "", "Override the configured log level")
}

func main() {
	pflag.Parse()
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("configuration file read error: %v\n", err)
		os.Exit(1)
	}
	if logLevel != "" {
		cfg.Logger.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Printf("failed to create a logger: %v\n", err)
		os.Exit(1)
	}
	log.With(logger.Fields{"module": "logger"}).Debug("newLogger created ok")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	if err := mdns.NewResolver(log, cfg.MDNS).Apply(ctx, cfg); err != nil {
		log.Error("mDNS discovery failed: ", err.Error())
		cancel()
		os.Exit(1)
	}

	mqttConf := ConvertConfigClientMQTT(cfg.MQTT)
	client := clientmqtt.NewManager(log, mqttConf, clientmqtt.NewPahoTransport(log, mqttConf))
	log.With(logger.Fields{"module": "mqtt"}).Debug("NewManager created ok")

	integration := homeintegration.NewClient(log, cfg.Integration.API, cfg.Integration.Token,
		time.Duration(cfg.Integration.Timeout)*time.Second)

	cache, closeCache := newCache(ctx, log, cfg.Cache)
	platform := accessory.NewPlatform(log, client, integration, cache,
		time.Duration(cfg.Integration.SyncInterval)*time.Second)

	go func() {
		if err := client.Connect(ctx); err != nil {
			log.Error("failed to start MQTT service: ", err.Error())
		}
	}()

	platform.Start(ctx)

	var srv *status.Server
	if cfg.Status.Listen != "" {
		srv = status.NewServer(log, cfg.Status.Listen, client, platform)
		if err := srv.Start(ctx); err != nil {
			log.Error("failed to start status API: ", err.Error())
			srv = nil
			cancel()
		}
	}

	<-ctx.Done()

	if srv != nil {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Stop(stopCtx); err != nil {
			log.Error("failed to stop status API: ", err.Error())
		}
		stop()
	}

	platform.Stop()
	client.Close()
	closeCache()

	log.Info("shutdown complete")
}

// ConvertConfigClientMQTT преобразует структуры.
func ConvertConfigClientMQTT(cfg config.MQTTConf) clientmqtt.MQTTConf {
	policy, _ := clientmqtt.ParsePolicy(cfg.PublishPolicy)
	return clientmqtt.MQTTConf{
		ClientID:      cfg.ClientID,
		Schema:        cfg.Schema,
		Host:          cfg.Host,
		Port:          cfg.Port,
		User:          cfg.User,
		Password:      cfg.Password,
		Qos:           cfg.Qos,
		Resubscribe:   cfg.Resubscribe,
		Policy:        policy,
		QueueSize:     cfg.QueueSize,
		FlushRate:     cfg.FlushRate,
		RetryInterval: time.Duration(cfg.RetryInterval) * time.Second,
		KeepAlive:     time.Duration(cfg.KeepAlive) * time.Second,
	}
}

// newCache picks Redis when an address is configured and falls back to memory
// if Redis cannot be reached.
func newCache(ctx context.Context, log *logger.Log, cfg config.CacheConf) (accessory.Cache, func()) {
	if cfg.RedisAddr == "" {
		return accessory.NewMemoryCache(), func() {}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cache, err := accessory.NewRedisCache(pingCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.Key)
	if err != nil {
		log.With(logger.Fields{"module": "cache"}).Errorf("accessory cache falls back to memory: %v", err)
		return accessory.NewMemoryCache(), func() {}
	}
	return cache, func() {
		if err := cache.Close(); err != nil {
			log.With(logger.Fields{"module": "cache"}).Errorf("failed to close redis: %v", err)
		}
	}
}
