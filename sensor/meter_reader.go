package sensor

import (
	"time"

	"github.com/lguibr/twothread/bollywood"
	"github.com/lguibr/twothread/logging"
	"github.com/lguibr/twothread/utils"
)

// ReaderState is the meter reader's private state.
type ReaderState struct {
	// Ordinal numbers the next reading.
	Ordinal int
	// Writer receives a WriteData per reading.
	Writer *bollywood.PID
}

// NewMeterReader creates the reader agent. Each AcquisitionTurn simulates a meter read
// and asks writer to store the result.
func NewMeterReader(cfg utils.ReaderConfig, writer *bollywood.PID) (*bollywood.Agent, error) {
	overflow, err := bollywood.ParseOverflowPolicy(cfg.Overflow)
	if err != nil {
		return nil, err
	}
	read := cfg.ReadDuration

	handler := func(ctx bollywood.Context, st ReaderState, msg bollywood.Message) (ReaderState, bollywood.Effects, error) {
		if _, ok := msg.Payload().(AcquisitionTurn); !ok {
			logging.NewEvent(ctx.Logger().Warn()).
				Add(logging.AgentID(ctx.Self().String())).
				Add(logging.Str("payload", typeName(msg.Payload()))).
				Msg("meter reader ignored message")
			return st, bollywood.Effects{}, nil
		}

		logging.NewEvent(ctx.Logger().Info()).
			Add(logging.AgentID(ctx.Self().String())).
			Add(logging.Int("ordinal", st.Ordinal)).
			Msg("meter read started")
		start := time.Now()
		time.Sleep(read)
		logging.NewEvent(ctx.Logger().Info()).
			Add(logging.AgentID(ctx.Self().String())).
			Add(logging.Int("ordinal", st.Ordinal)).
			Add(logging.Duration(time.Since(start))).
			Msg("meter read finished")

		cmd := WriteData{FileName: FileNameFor(st.Ordinal), Ordinal: st.Ordinal}
		st.Ordinal++
		return st, bollywood.Emit(bollywood.TellFrom(st.Writer, ctx.Self(), cmd)), nil
	}

	return bollywood.NewAgent("meter_reader", ReaderState{Writer: writer}, handler,
		bollywood.WithMailbox(cfg.MailboxCapacity, overflow)), nil
}
