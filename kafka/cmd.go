package kafka

import (
	"time"

	"github.com/catalogstream/enrichd"
	"github.com/pkg/errors"
)

// Main wires the enrichd ingester to a Kafka source.
type Main struct {
	enrichd.Main `flag:"!embed"`
	KafkaHosts   []string      `help:"Comma separated list of kafka broker host:port pairs."`
	Group        string        `help:"Kafka consumer group."`
	Topics       []string      `help:"Kafka topics to read from."`
	Timeout      time.Duration `help:"Time to wait for more records from Kafka before flushing a batch. 0 to disable."`
	SkipOld      bool          `short:"" help:"Skip to the most recent Kafka message rather than starting at the beginning."`
}

func NewMain() *Main {
	m := &Main{
		Main:       *enrichd.NewMain(),
		KafkaHosts: []string{"localhost:9092"},
		Group:      "enrichd",
		Topics:     []string{"product-updates"},
		Timeout:    time.Second,
	}
	m.NewSource = m.OpenSource
	return m
}

// OpenSource builds and opens a Source from the Kafka options.
func (m *Main) OpenSource() (enrichd.Source, error) {
	source := NewSource()
	source.Hosts = m.KafkaHosts
	source.Group = m.Group
	source.Topics = m.Topics
	if log := m.Main.Log(); log != nil {
		source.Log = log
	}
	source.Timeout = m.Timeout
	source.SkipOld = m.SkipOld

	if err := source.Open(); err != nil {
		return nil, errors.Wrap(err, "opening kafka source")
	}
	return source, nil
}
