package coapd

import (
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// json is aliased the same way the teacher aliases its CBOR/JSON bridge in
// cbor.go, so decoding here behaves identically to encoding/json.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config holds every tunable the spec calls out as "treat as configuration"
// (§9) plus the file paths and listen address this endpoint needs to run.
type Config struct {
	// ListenAddr is a "host:port" UDP address, e.g. ":5683".
	ListenAddr string `json:"listen_addr"`

	// TextFilePath backs the `file` resource's default target (GET without
	// ?type=image, iPATCH, FETCH).
	TextFilePath string `json:"text_file_path"`
	// ImageFilePath backs `file` GET with ?type=image.
	ImageFilePath string `json:"image_file_path"`

	// SnapshotPath, if non-empty, enables SnapshotStore persistence of the
	// Observe subscriber table across restarts.
	SnapshotPath string `json:"snapshot_path,omitempty"`

	AckTimeoutMS         int64 `json:"ack_timeout_ms"`
	MaxRetransmits       int   `json:"max_retransmits"`
	MaxPendingMessages   int   `json:"max_pending_messages"`
	MaxSubscribers       int   `json:"max_subscribers"`
	TimeoutThreshold     int   `json:"timeout_threshold"`
	SubscriberTimeoutMS  int64 `json:"subscriber_timeout_ms"`
	RecentMsgHistory     int   `json:"recent_msg_history"`
	PruneIntervalMS      int64 `json:"prune_interval_ms"`
	SnapshotIntervalMS   int64 `json:"snapshot_interval_ms"`
}

// DefaultConfig returns the constants from spec.md §3/§9 verbatim.
func DefaultConfig() Config {
	return Config{
		ListenAddr:          ":5683",
		TextFilePath:        "file.txt",
		ImageFilePath:       "file.jpg",
		AckTimeoutMS:        AckTimeout.Milliseconds(),
		MaxRetransmits:      MaxRetransmits,
		MaxPendingMessages:  MaxPendingMessages,
		MaxSubscribers:      MaxSubscribers,
		TimeoutThreshold:    TimeoutThreshold,
		SubscriberTimeoutMS: SubscriberTimeout.Milliseconds(),
		RecentMsgHistory:    RecentMsgHistory,
		PruneIntervalMS:     PruneInterval.Milliseconds(),
		SnapshotIntervalMS:  SnapshotInterval.Milliseconds(),
	}
}

// LoadConfig reads a JSON config file, filling in any field left at its
// zero value with the corresponding DefaultConfig value.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("coapd: opening config %s: %w", path, err)
	}
	defer f.Close()

	var overrides Config
	if err := json.NewDecoder(f).Decode(&overrides); err != nil {
		return cfg, fmt.Errorf("coapd: decoding config %s: %w", path, err)
	}
	mergeConfig(&cfg, overrides)
	return cfg, nil
}

func mergeConfig(base *Config, over Config) {
	if over.ListenAddr != "" {
		base.ListenAddr = over.ListenAddr
	}
	if over.TextFilePath != "" {
		base.TextFilePath = over.TextFilePath
	}
	if over.ImageFilePath != "" {
		base.ImageFilePath = over.ImageFilePath
	}
	if over.SnapshotPath != "" {
		base.SnapshotPath = over.SnapshotPath
	}
	if over.AckTimeoutMS != 0 {
		base.AckTimeoutMS = over.AckTimeoutMS
	}
	if over.MaxRetransmits != 0 {
		base.MaxRetransmits = over.MaxRetransmits
	}
	if over.MaxPendingMessages != 0 {
		base.MaxPendingMessages = over.MaxPendingMessages
	}
	if over.MaxSubscribers != 0 {
		base.MaxSubscribers = over.MaxSubscribers
	}
	if over.TimeoutThreshold != 0 {
		base.TimeoutThreshold = over.TimeoutThreshold
	}
	if over.SubscriberTimeoutMS != 0 {
		base.SubscriberTimeoutMS = over.SubscriberTimeoutMS
	}
	if over.RecentMsgHistory != 0 {
		base.RecentMsgHistory = over.RecentMsgHistory
	}
	if over.PruneIntervalMS != 0 {
		base.PruneIntervalMS = over.PruneIntervalMS
	}
	if over.SnapshotIntervalMS != 0 {
		base.SnapshotIntervalMS = over.SnapshotIntervalMS
	}
}

func (c Config) ackTimeout() time.Duration {
	return time.Duration(c.AckTimeoutMS) * time.Millisecond
}

func (c Config) subscriberTimeout() time.Duration {
	return time.Duration(c.SubscriberTimeoutMS) * time.Millisecond
}

func (c Config) pruneInterval() time.Duration {
	return time.Duration(c.PruneIntervalMS) * time.Millisecond
}

func (c Config) snapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalMS) * time.Millisecond
}
