package influxdb

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/septivank/water-metering-ledger/internal/db"
)

const measurement = "water_consumption"

// Config holds InfluxDB v2 connection settings
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Client writes applied readings as a consumption time series
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewClient initializes the InfluxDB v2 client and verifies connectivity
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	return &Client{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// RecordConsumption writes one point per applied reading
func (c *Client) RecordConsumption(ctx context.Context, reading db.Reading, class string) error {
	if err := c.writeAPI.WritePoint(ctx, consumptionPoint(reading, class)); err != nil {
		return fmt.Errorf("failed to write consumption point: %w", err)
	}
	return nil
}

func consumptionPoint(reading db.Reading, class string) *write.Point {
	ts := reading.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	source := "ocr"
	if reading.Human {
		source = "human"
	}
	return write.NewPoint(
		measurement,
		map[string]string{
			"account_number": reading.AccountNumber,
			"source":         source,
			"class":          class,
		},
		map[string]interface{}{
			"measure_m3":     reading.Measure,
			"consumption_m3": reading.Consumption,
		},
		ts,
	)
}

// Close closes the InfluxDB client
func (c *Client) Close() {
	c.client.Close()
}
