package sensor

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/lguibr/twothread/bollywood"
	"github.com/lguibr/twothread/logging"
	"github.com/lguibr/twothread/utils"
)

// WriterState is the file writer's private state.
type WriterState struct {
	Written int
	Failed  int
	Last    string
}

// fileStore persists one reading per file under dir.
type fileStore struct {
	dir     string
	retrier retry.Retry[int]
}

func newFileStore(dir string, attempts int) *fileStore {
	if dir == "" {
		return nil
	}
	return &fileStore{
		dir: dir,
		retrier: retry.New[int](retry.Config{
			MaxAttempts:   attempts,
			InitialDelay:  10 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
			Multiplier:    2.0,
		}),
	}
}

func (s *fileStore) save(ctx context.Context, cmd WriteData, pause time.Duration) (int, error) {
	body := []byte(fmt.Sprintf("ordinal=%d\npause_ms=%d\nwritten_at=%s\n",
		cmd.Ordinal, pause.Milliseconds(), time.Now().UTC().Format(time.RFC3339Nano)))
	path := filepath.Join(s.dir, filepath.Base(cmd.FileName))

	return s.retrier.Do(ctx, func(ctx context.Context) (int, error) {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return 0, err
		}
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return 0, err
		}
		return len(body), nil
	})
}

// NewFileWriter creates the writer agent. Each WriteData takes a random pause in
// [MinPause, MaxPause] and, when OutputDir is set, leaves a file behind.
func NewFileWriter(cfg utils.WriterConfig, rng *rand.Rand) (*bollywood.Agent, error) {
	overflow, err := bollywood.ParseOverflowPolicy(cfg.Overflow)
	if err != nil {
		return nil, err
	}
	if rng == nil {
		rng = utils.NewRand(0)
	}
	store := newFileStore(cfg.OutputDir, cfg.PersistAttempts)

	handler := func(ctx bollywood.Context, st WriterState, msg bollywood.Message) (WriterState, bollywood.Effects, error) {
		cmd, ok := msg.Payload().(WriteData)
		if !ok {
			logging.NewEvent(ctx.Logger().Warn()).
				Add(logging.AgentID(ctx.Self().String())).
				Add(logging.Str("payload", typeName(msg.Payload()))).
				Msg("file writer ignored message")
			return st, bollywood.Effects{}, nil
		}

		pause := utils.RandomDuration(rng, cfg.MinPause, cfg.MaxPause)
		logging.NewEvent(ctx.Logger().Info()).
			Add(logging.AgentID(ctx.Self().String())).
			Add(logging.Str("file", cmd.FileName)).
			Add(logging.Duration(pause)).
			Msg("write started")
		time.Sleep(pause)

		if store != nil {
			if _, err := store.save(context.Background(), cmd, pause); err != nil {
				st.Failed++
				logging.NewEvent(ctx.Logger().Error()).
					Add(logging.AgentID(ctx.Self().String())).
					Add(logging.Str("file", cmd.FileName)).
					Add(logging.ErrorField(err)).
					Msg("write failed")
				return st, bollywood.Effects{}, nil
			}
		}

		st.Written++
		st.Last = cmd.FileName
		logging.NewEvent(ctx.Logger().Info()).
			Add(logging.AgentID(ctx.Self().String())).
			Add(logging.Str("file", cmd.FileName)).
			Msg("write finished")
		return st, bollywood.Effects{}, nil
	}

	return bollywood.NewAgent("file_writer", WriterState{}, handler,
		bollywood.WithMailbox(cfg.MailboxCapacity, overflow)), nil
}

func typeName(v interface{}) string {
	return fmt.Sprintf("%T", v)
}
