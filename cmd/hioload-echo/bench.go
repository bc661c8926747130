// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-core/affinity"
	"github.com/momentics/hioload-core/control"
	"github.com/momentics/hioload-core/core/concurrency"
	"github.com/momentics/hioload-core/report"
	"github.com/momentics/hioload-core/transport/tcp"
)

var (
	benchHost     string
	benchPort     int
	benchConns    int
	benchMessages int
	benchSize     int
	benchPin      bool
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Drive an echo server with concurrent clients",
	Long:  "Open --connections clients on the configured thread pool; each sends --messages payloads and checks the echo.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("port") {
			benchPort = cfg.Server.Port
		}
		res, err := runBench(cfg, benchPlan{
			host:     benchHost,
			port:     benchPort,
			conns:    benchConns,
			messages: benchMessages,
			size:     benchSize,
			pin:      benchPin,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res)
		if res.failed > 0 {
			return fmt.Errorf("%d of %d clients failed", res.failed, benchConns)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().StringVar(&benchHost, "host", "127.0.0.1", "server host")
	benchCmd.Flags().IntVarP(&benchPort, "port", "p", 0, "server port (default from config)")
	benchCmd.Flags().IntVarP(&benchConns, "connections", "n", 16, "number of clients")
	benchCmd.Flags().IntVarP(&benchMessages, "messages", "m", 100, "messages per client")
	benchCmd.Flags().IntVarP(&benchSize, "size", "s", 64, "message size in bytes")
	benchCmd.Flags().BoolVar(&benchPin, "pin", false, "pin client i to the i-th allowed core, wrapping around")
}

type benchPlan struct {
	host     string
	port     int
	conns    int
	messages int
	size     int
	pin      bool
}

type benchResult struct {
	clients  int
	failed   int
	bytes    int64
	elapsed  time.Duration
	firstErr error
}

func (r benchResult) String() string {
	rate := 0.0
	if r.elapsed > 0 {
		rate = float64(r.bytes) / r.elapsed.Seconds() / (1 << 20)
	}
	return fmt.Sprintf("clients=%d failed=%d bytes=%d elapsed=%s throughput=%.2fMiB/s",
		r.clients, r.failed, r.bytes, r.elapsed.Round(time.Millisecond), rate)
}

// benchClient is the parameter of one pool job.
type benchClient struct {
	plan  benchPlan
	id    int
	bytes *atomic.Int64
	fail  func(error)
}

func runBench(cfg *control.Config, plan benchPlan) (benchResult, error) {
	if plan.conns <= 0 || plan.messages <= 0 || plan.size <= 0 {
		return benchResult{}, errors.New("connections, messages and size must be positive")
	}
	pool, err := concurrency.NewThreadPool(cfg.Pool.Size, cfg.PoolOptions(nil)...)
	if err != nil {
		return benchResult{}, err
	}
	defer pool.Close()

	var (
		bytesDone atomic.Int64
		mu        sync.Mutex
		res       = benchResult{clients: plan.conns}
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		res.failed++
		if res.firstErr == nil {
			res.firstErr = err
		}
	}

	log := report.Component("bench")
	cores := affinity.All().Cores()
	start := time.Now()
	for i := 0; i < plan.conns; i++ {
		c := &benchClient{plan: plan, id: i, bytes: &bytesDone, fail: fail}
		if plan.pin {
			err = pool.SubmitJobWithAffinity(runClient, c, affinity.Of(cores[i%len(cores)]))
		} else {
			err = pool.SubmitJob(runClient, c)
		}
		if err != nil {
			return benchResult{}, err
		}
	}
	pool.WaitForIdle()

	res.elapsed = time.Since(start)
	res.bytes = bytesDone.Load()
	if res.firstErr != nil {
		log.Warn().Err(res.firstErr).Int("failed", res.failed).Msg("bench clients failed")
	}
	return res, nil
}

func runClient(param any) {
	c := param.(*benchClient)
	sock := tcp.NewSocket()
	defer sock.Close()
	if err := sock.ConnectTo(c.plan.port, c.plan.host); err != nil {
		c.fail(err)
		return
	}

	payload := bytes.Repeat([]byte{byte('a' + c.id%26)}, c.plan.size)
	echo := make([]byte, c.plan.size)
	for m := 0; m < c.plan.messages; m++ {
		if _, err := sock.Write(payload); err != nil {
			c.fail(err)
			return
		}
		n, timedOut, err := sock.Read(echo, tcp.Buffered(), tcp.WithTimeout(5*time.Second))
		switch {
		case err != nil:
			c.fail(err)
			return
		case timedOut:
			c.fail(fmt.Errorf("client %d: echo timed out after %d bytes", c.id, n))
			return
		case n < len(echo) || !bytes.Equal(echo, payload):
			c.fail(fmt.Errorf("client %d: short or corrupt echo", c.id))
			return
		}
		c.bytes.Add(int64(2 * n))
	}
}
