package sink

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"github.com/mariadb-corp/nosqlbridge/internal/replication"
	"github.com/mariadb-corp/nosqlbridge/internal/schema"
)

// MessageBusSink publishes one JSON message per committed row to a
// Kafka topic, keyed "<gtid>:<event_num>" (§4.11). It reads the
// highest offset's key back on startup to resume (LoadLatestGTID).
type MessageBusSink struct {
	client   sarama.Client
	producer sarama.SyncProducer
	consumer sarama.Consumer
	topic    string
	log      *zap.Logger

	current *fileRecord
	currKey tableKey
}

type tableKey struct{ db, table string }

func NewMessageBusSink(brokers []string, topic string, log *zap.Logger) (*MessageBusSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to brokers: %w", err)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connect producer: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		producer.Close()
		client.Close()
		return nil, fmt.Errorf("connect consumer: %w", err)
	}
	return &MessageBusSink{client: client, producer: producer, consumer: consumer, topic: topic, log: log}, nil
}

// LoadLatestGTID reads the key of the most recent message on the
// topic's partition 0 and parses its GTID prefix, the "read back the
// last message's key" strategy named in §4.11.
func (s *MessageBusSink) LoadLatestGTID() (replication.GTID, bool, error) {
	newest, err := s.client.GetOffset(s.topic, 0, sarama.OffsetNewest)
	if err != nil || newest <= 0 {
		return replication.GTID{}, false, nil
	}
	pc, err := s.consumer.ConsumePartition(s.topic, 0, newest-1)
	if err != nil {
		return replication.GTID{}, false, nil
	}
	defer pc.Close()

	select {
	case msg := <-pc.Messages():
		parts := strings.SplitN(string(msg.Key), ":", 2)
		if len(parts) != 2 {
			return replication.GTID{}, false, nil
		}
		g, err := replication.ParseGTID(parts[0])
		if err != nil {
			return replication.GTID{}, false, nil
		}
		return g, true, nil
	case err := <-pc.Errors():
		s.log.Warn("message-bus position read failed", zap.Error(err))
		return replication.GTID{}, false, nil
	}
}

func (s *MessageBusSink) CreateTable(sc *schema.TableSchema) error  { return nil }
func (s *MessageBusSink) OpenTable(sc *schema.TableSchema) error    { return nil }
func (s *MessageBusSink) PrepareTable(sc *schema.TableSchema) error { return nil }

func (s *MessageBusSink) PrepareRow(sc *schema.TableSchema, gtid replication.GTID, hdr Header) error {
	s.current = &fileRecord{hdr: hdr, columns: make(map[string]interface{}, len(sc.Columns))}
	s.currKey = tableKey{db: sc.Database, table: sc.Table}
	return nil
}

func (s *MessageBusSink) setColumn(sc *schema.TableSchema, index int, value interface{}) {
	if s.current == nil || index < 0 || index >= len(sc.Columns) {
		return
	}
	s.current.columns[sc.Columns[index].Name] = value
}

func (s *MessageBusSink) ColumnInt(sc *schema.TableSchema, index int, value int64) {
	s.setColumn(sc, index, value)
}
func (s *MessageBusSink) ColumnLong(sc *schema.TableSchema, index int, value int64) {
	s.setColumn(sc, index, value)
}
func (s *MessageBusSink) ColumnFloat(sc *schema.TableSchema, index int, value float32) {
	s.setColumn(sc, index, value)
}
func (s *MessageBusSink) ColumnDouble(sc *schema.TableSchema, index int, value float64) {
	s.setColumn(sc, index, value)
}
func (s *MessageBusSink) ColumnString(sc *schema.TableSchema, index int, value string) {
	s.setColumn(sc, index, value)
}
func (s *MessageBusSink) ColumnBytes(sc *schema.TableSchema, index int, value []byte) {
	s.setColumn(sc, index, value)
}
func (s *MessageBusSink) ColumnNull(sc *schema.TableSchema, index int) { s.setColumn(sc, index, nil) }

func (s *MessageBusSink) Commit(sc *schema.TableSchema, gtid replication.GTID) error {
	if s.current == nil {
		return nil
	}
	rec := map[string]interface{}{
		"database":     sc.Database,
		"table":        sc.Table,
		"domain":       gtid.Domain,
		"server_id":    gtid.ServerID,
		"sequence":     gtid.Sequence,
		"event_number": s.current.hdr.EventNumber,
		"timestamp":    s.current.hdr.Timestamp,
		"event_type":   s.current.hdr.EventType.String(),
	}
	for k, v := range s.current.columns {
		rec[k] = v
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s:%d", gtid.String(), s.current.hdr.EventNumber)
	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(raw),
	})
	s.current = nil
	if err != nil {
		return fmt.Errorf("publish row event: %w", err)
	}
	return nil
}

func (s *MessageBusSink) FlushTables() error { return nil }

func (s *MessageBusSink) Close() error {
	err1 := s.producer.Close()
	err2 := s.consumer.Close()
	err3 := s.client.Close()
	for _, err := range []error{err1, err2, err3} {
		if err != nil {
			return err
		}
	}
	return nil
}
