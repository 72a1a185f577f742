package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elijahnyp/lighting_zone/state"
	. "github.com/elijahnyp/lighting_zone/util"
)

// init
func Init() {
	go ZoneManagerRoutine()
	go DimRoutine()
}

func main() {
	LogInit("trace")
	SetupConfig(os.Args[1:])
	member_store = state.NewStore(time.Duration(Config.GetInt("state_ttl")) * time.Second)
	member_store.OnExpire(expireMember)
	RegisterNewConfigListener(func() { LogInit(Config.GetString("log_level")) })
	RegisterNewConfigListener(rebuildModel)
	RegisterNewConfigListener(subscribeZoneTopics)
	RegisterNewConfigListener(configureDispatcher)
	RegisterMQTTConnectHook("haadvertise", announce)
	RegisterNewConfigListener(MqttInit)
	RegisterNewConfigListener(restartPoller)
	Init()
	OnNewConfig()
	monitor := NewMonitorServer()
	registerWebHandlers(monitor)
	if err := monitor.Start(); err != nil {
		Logger.Error().Msgf("Error starting monitor server: %v", err)
	}
	RegisterNewConfigListener(func() { monitor.Restart() })
	Logger.Info().Int("zones", len(currentModel().Zones)).Msg("ready")
	go OnlinePinger() // start the online pinger
	go HAAdvertiser() // start the HA advertisement pinger

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	shutdown()
}

func shutdown() {
	poller.Stop()
	if Client != nil && Client.IsConnected() {
		if err := Publish(BridgeAvailabilityTopic(), true, "offline"); err != nil {
			Logger.Error().Err(err).Msg("Error publishing offline message")
		}
		Client.Disconnect(250)
	}
}

// online pinger
func OnlinePinger() {
	for {
		if Client != nil && Client.IsConnected() {
			if err := Publish(BridgeAvailabilityTopic(), true, "online"); err != nil {
				Logger.Error().Msgf("Error publishing online message: %v", err)
			}
		}
		time.Sleep(10 * time.Second)
	}
}

// HAAdvertiser - advertises Home Assistant discovery messages every 5 minutes
func HAAdvertiser() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		if Client != nil && Client.IsConnected() {
			Logger.Debug().Msg("Advertising Home Assistant discovery messages")
			AdvertiseHA(currentModel().Zones, Client)
		}
	}
}
