package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/amm-engine/cmd/ammsim/config"
	"github.com/defistate/amm-engine/engine"
	"github.com/defistate/amm-engine/types"
)

// poolRun is the outcome of one pool's script.
type poolRun struct {
	Name   string
	Key    engine.PoolKey
	Steps  int
	Failed int
	// End is the latest step time, used as the clock for the final view.
	End uint64
}

type simulator struct {
	eng    *engine.Engine
	cfg    *config.Config
	logger *slog.Logger
	tokens map[string]engine.Token
}

// newSimulator registers every configured token with eng.
func newSimulator(eng *engine.Engine, cfg *config.Config, logger *slog.Logger) (*simulator, error) {
	s := &simulator{
		eng:    eng,
		cfg:    cfg,
		logger: logger,
		tokens: make(map[string]engine.Token, len(cfg.Tokens)),
	}
	for _, t := range cfg.Tokens {
		tok := engine.Token{Address: t.Address, Symbol: t.Symbol, Decimals: t.Decimals}
		if err := eng.RegisterToken(tok); err != nil {
			return nil, fmt.Errorf("register token %s: %w", t.Symbol, err)
		}
		s.tokens[t.Symbol] = tok
	}
	return s, nil
}

// run creates every pool and replays the scripts, one pool per task. Pools are independent,
// so scripts of different pools interleave freely while each script stays in order.
func (s *simulator) run(ctx context.Context) ([]poolRun, error) {
	runs := make([]poolRun, len(s.cfg.Pools))
	for i, pc := range s.cfg.Pools {
		poolCfg, err := pc.EngineConfig()
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", pc.Name, err)
		}
		key, err := s.eng.CreatePool(s.tokens[pc.X].Address, s.tokens[pc.Y].Address, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("create pool %s: %w", pc.Name, err)
		}
		runs[i] = poolRun{Name: pc.Name, Key: key}
	}

	workers := pond.NewPool(s.cfg.Workers)
	defer workers.StopAndWait()

	group := workers.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i := range runs {
		script := s.cfg.Pools[i].Script
		group.Submit(func() {
			s.replay(groupCtx, &runs[i], script)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return nil, err
	}
	return runs, ctx.Err()
}

func (s *simulator) replay(ctx context.Context, run *poolRun, script []config.Step) {
	for _, step := range script {
		if ctx.Err() != nil {
			return
		}
		run.Steps++
		run.End = max(run.End, step.At)
		if err := s.apply(run.Key, step); err != nil {
			run.Failed++
			s.logger.Warn("step failed", "pool", run.Name, "op", step.Op, "at", step.At, "error", err)
		}
	}
}

func (s *simulator) apply(key engine.PoolKey, step config.Step) error {
	switch step.Op {
	case config.OpSwap:
		token, err := tokenOf(key, step.Side)
		if err != nil {
			return err
		}
		_, err = s.eng.Swap(step.At, key, token, step.Amount, step.Min)
		return err
	case config.OpDeposit:
		_, err := s.eng.Deposit(step.At, key, step.AmountX, step.AmountY, step.Min)
		return err
	case config.OpWithdraw:
		_, err := s.eng.Withdraw(step.At, key, step.Amount, step.AmountX, step.AmountY)
		return err
	case config.OpWithdrawOne:
		token, err := tokenOf(key, step.Side)
		if err != nil {
			return err
		}
		_, err = s.eng.WithdrawOne(step.At, key, step.Amount, token, step.Min)
		return err
	case config.OpFreeze:
		return s.eng.SetFrozen(s.cfg.Admin, key, true)
	case config.OpUnfreeze:
		return s.eng.SetFrozen(s.cfg.Admin, key, false)
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

func tokenOf(key engine.PoolKey, side string) (common.Address, error) {
	sd, err := config.ParseSide(side)
	if err != nil {
		return common.Address{}, err
	}
	if sd == types.SideX {
		return key.X, nil
	}
	return key.Y, nil
}

// writeReport prints one row per pool followed by the bank balances.
func (s *simulator) writeReport(w io.Writer, runs []poolRun) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "POOL\tKIND\tRESERVE X\tRESERVE Y\tSUPPLY\tSPOT\tVIRTUAL\tWEEKLY SMA\tTRADES 24H\tSTEPS\tFAILED")
	for _, r := range runs {
		v, err := s.eng.Pool(r.End, r.Key)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\t%d\t%d\t%d\n",
			r.Name, v.Kind, v.ReserveX, v.ReserveY, v.Supply,
			v.SpotPrice, v.VirtualPrice, v.WeeklySMA,
			v.Trades.Trades, r.Steps, r.Failed,
		)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "TOKEN\tBANK BALANCE")
	for _, t := range s.cfg.Tokens {
		fmt.Fprintf(tw, "%s\t%d\n", t.Symbol, s.eng.BankBalance(t.Address))
	}
	return tw.Flush()
}
