package natsclient

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/pump"
)

// DefaultStateBucket holds the last acknowledged state of each pump.
const DefaultStateBucket = "PUMP_STATE"

// CreateKeyValueBucket returns the bucket named in cfg, creating it if needed.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.jetStreamReady()
	if err != nil {
		return nil, err
	}

	if bucket, err := js.KeyValue(ctx, cfg.Bucket); err == nil {
		c.logger.Info("Using existing KV bucket", "bucket", cfg.Bucket)
		c.resetCircuit()
		return bucket, nil
	}

	bucket, err := js.CreateKeyValue(ctx, cfg)
	if err != nil {
		if !isAlreadyExistsError(err) {
			c.recordFailure()
			return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket",
				fmt.Sprintf("create bucket %s", cfg.Bucket))
		}
		// lost a creation race with another process
		bucket, err = js.KeyValue(ctx, cfg.Bucket)
		if err != nil {
			c.recordFailure()
			return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket",
				fmt.Sprintf("access bucket %s", cfg.Bucket))
		}
	}

	c.logger.Info("KV bucket ready", "bucket", cfg.Bucket)
	c.resetCircuit()
	return bucket, nil
}

// GetKeyValueBucket gets an existing KV bucket
func (c *Client) GetKeyValueBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	js, err := c.jetStreamReady()
	if err != nil {
		return nil, err
	}

	bucket, err := js.KeyValue(ctx, name)
	if err != nil {
		c.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "GetKeyValueBucket", fmt.Sprintf("get bucket %s", name))
	}
	c.resetCircuit()
	return bucket, nil
}

func (c *Client) jetStreamReady() (jetstream.JetStream, error) {
	if c.Status() == StatusCircuitOpen {
		return nil, ErrCircuitOpen
	}
	if c.Status() != StatusConnected {
		return nil, ErrNotConnected
	}
	return c.JetStream()
}

func isAlreadyExistsError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already in use") || strings.Contains(msg, "already exists")
}

// StateStore keeps pump.State values in a KV bucket, one key per pump.
// Only the latest value is kept; this is not a command history.
type StateStore struct {
	bucket  jetstream.KeyValue
	timeout time.Duration
}

var _ pump.StateStore = (*StateStore)(nil)

// NewStateStore wraps an open bucket.
func NewStateStore(bucket jetstream.KeyValue) *StateStore {
	return &StateStore{bucket: bucket, timeout: 2 * time.Second}
}

// OpenStateStore creates or opens the state bucket on client.
func OpenStateStore(ctx context.Context, client *Client, name string) (*StateStore, error) {
	if name == "" {
		name = DefaultStateBucket
	}
	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "Last acknowledged pump state",
		History:     1,
	})
	if err != nil {
		return nil, err
	}
	return NewStateStore(bucket), nil
}

func stateKey(id int) string {
	return fmt.Sprintf("pump.%d", id)
}

// Load returns the stored state of pump id, or errors.ErrKeyNotFound.
func (s *StateStore) Load(ctx context.Context, id int) (pump.State, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	entry, err := s.bucket.Get(ctx, stateKey(id))
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return pump.State{}, errors.WrapInvalid(errors.ErrKeyNotFound, "StateStore", "Load",
				fmt.Sprintf("get %s", stateKey(id)))
		}
		return pump.State{}, errors.WrapTransient(err, "StateStore", "Load", fmt.Sprintf("get %s", stateKey(id)))
	}

	var state pump.State
	if err := json.Unmarshal(entry.Value(), &state); err != nil {
		return pump.State{}, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrDecode, err),
			"StateStore", "Load", "decode state")
	}
	return state, nil
}

// Save overwrites the stored state of state.PumpID.
func (s *StateStore) Save(ctx context.Context, state pump.State) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "StateStore", "Save", "encode state")
	}
	if _, err := s.bucket.Put(ctx, stateKey(state.PumpID), data); err != nil {
		return errors.WrapTransient(err, "StateStore", "Save", fmt.Sprintf("put %s", stateKey(state.PumpID)))
	}
	return nil
}
