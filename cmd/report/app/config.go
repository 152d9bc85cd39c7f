package app

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/flarelab/papiscan/internal/runway"
)

type Config struct {
	DBPath     string
	SessionID  string
	OutputFile string
	FPS        float64
	Point      *runway.PointID
	MinTime    *time.Time
	MaxTime    *time.Time
	Verbose    bool
}

func NewConfig() *Config {
	return &Config{
		FPS: 30,
	}
}

func NewConfigFromCLI() (*Config, error) {
	c := NewConfig()

	var point, minTime, maxTime string
	flag.StringVar(&c.DBPath, "db", "", "Path to the database file")
	flag.StringVar(&c.SessionID, "s", "", "Session ID")
	flag.StringVar(&c.OutputFile, "o", "", "Path to the output HTML file")
	flag.Float64Var(&c.FPS, "fps", 30, "Source video frame rate, used for durations")
	flag.StringVar(&point, "p", "", "Limit the report to a single light (e.g. PAPI_A)")
	flag.StringVar(&minTime, "from", "", "Earliest observation time to include (RFC 3339)")
	flag.StringVar(&maxTime, "to", "", "Latest observation time to include (RFC 3339)")
	flag.BoolVar(&c.Verbose, "verbose", false, "Enable more verbose output")
	flag.Parse()

	var err error
	switch {
	case c.DBPath == "":
		err = errors.New("db path is required")
	case c.SessionID == "":
		err = errors.New("session id is required")
	case c.OutputFile == "":
		err = errors.New("output file is required")
	case c.FPS <= 0:
		err = errors.New("fps must be positive")
	}

	if err == nil && point != "" {
		id := runway.PointID(strings.ToUpper(point))
		if !id.IsPapi() {
			err = fmt.Errorf("invalid light id: %s", point)
		} else {
			c.Point = &id
		}
	}
	if err == nil && minTime != "" {
		var ts time.Time
		if ts, err = time.Parse(time.RFC3339Nano, minTime); err == nil {
			c.MinTime = &ts
		}
	}
	if err == nil && maxTime != "" {
		var ts time.Time
		if ts, err = time.Parse(time.RFC3339Nano, maxTime); err == nil {
			c.MaxTime = &ts
		}
	}

	if err != nil {
		flag.Usage()
		return nil, err
	}

	if !strings.HasSuffix(c.OutputFile, ".html") {
		c.OutputFile += ".html"
	}
	return c, nil
}
