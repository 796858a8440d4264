package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TRICYKOL_FIREBASE_PROJECT_ID", "tricykol-dev")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.HTTP.ShutdownTimeout != 10*time.Second {
		t.Errorf("http = %+v", cfg.HTTP)
	}
	if cfg.Fare.BaseFare != 25 || cfg.Fare.AdditionalFarePerKm != 8 || cfg.Fare.SystemFeePercentage != 0.10 {
		t.Errorf("fare = %+v", cfg.Fare)
	}
	if cfg.Location.MaxAcceptableAccuracy != 50 || cfg.Location.RemoteSyncInterval != 30*time.Second {
		t.Errorf("location = %+v", cfg.Location)
	}
	if cfg.Kafka.Topic != "trip-events" || cfg.AMQP.Exchange != "notifications" {
		t.Errorf("kafka/amqp = %+v %+v", cfg.Kafka, cfg.AMQP)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TRICYKOL_FIREBASE_PROJECT_ID", "tricykol-dev")
	t.Setenv("TRICYKOL_HTTP_ADDR", ":9090")
	t.Setenv("TRICYKOL_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TRICYKOL_FARE_BASE", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" || cfg.Fare.BaseFare != 30 {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_ValidationJoinsErrors(t *testing.T) {
	t.Setenv("TRICYKOL_FIREBASE_PROJECT_ID", "")
	t.Setenv("TRICYKOL_FARE_SYSTEM_FEE_PERCENTAGE", "1.5")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "FIREBASE_PROJECT_ID") || !strings.Contains(msg, "SYSTEM_FEE_PERCENTAGE") {
		t.Errorf("error = %q, want both problems reported", msg)
	}
}
