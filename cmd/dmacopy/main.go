// Command dmacopy copies a file through the transfer engine, moving the data in fixed-size nodes.
package main

import (
	"io"
	"os"

	"github.com/dop251/dmanode"
	"github.com/dop251/dmanode/transfer"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	blockSize int
	maxProc   int
	pin       bool
	verbose   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "dmacopy [flags] SRC DST",
		Short:        "Copy a file through fixed-size transfer buffers",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(opts.verbose)
			n, err := run(log, opts, args[0], args[1])
			if err != nil {
				log.Errorf("Copy failed: %v", err)
				return err
			}
			log.Infof("Copied %d bytes", n)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&opts.blockSize, "block-size", 4096, "size of each transfer buffer in bytes")
	flags.IntVar(&opts.maxProc, "max-proc", 4, "maximum number of buffers in flight")
	flags.BoolVar(&opts.pin, "pin", false, "lock transfer buffers in RAM")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func newLogger(verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		DisableColors: !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()),
		FullTimestamp: true,
	})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func newEngine(f *os.File, log *logrus.Logger, pool transfer.ProcPool, pin bool) *transfer.Engine {
	e := transfer.NewEngine(f)
	e.SetLogger(log)
	e.SetPool(pool)
	e.SetPinMemory(pin)
	return e
}

func run(log *logrus.Logger, opts options, srcPath, dstPath string) (total int64, err error) {
	if opts.blockSize <= 0 || opts.maxProc <= 0 {
		return 0, errors.Errorf("invalid block size %d or max proc %d", opts.blockSize, opts.maxProc)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	dst, err := os.OpenFile(dstPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		src.Close()
		return 0, err
	}

	pool := transfer.NewProcPool(opts.maxProc)
	in := newEngine(src, log, pool, opts.pin)
	out := newEngine(dst, log, pool, opts.pin)
	defer func() {
		in.Close()
		if err1 := out.Close(); err == nil {
			err = err1
		}
	}()

	nodes := make([]*dmanode.ByteNode, opts.maxProc)
	for i := range nodes {
		nodes[i] = dmanode.NewBytes(opts.blockSize)
	}
	defer func() {
		for _, node := range nodes {
			node.Close()
		}
	}()

	var off int64
	for {
		n, err := copyRound(in, out, nodes, off)
		total += n
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, err
		}
		off += int64(len(nodes) * opts.blockSize)
	}

	if err := out.Flush(); err != nil {
		return total, err
	}
	return total, nil
}

// copyRound loads one block per node starting at off, then stores them. It returns io.EOF once the
// source is exhausted.
func copyRound(in, out *transfer.Engine, nodes []*dmanode.ByteNode, off int64) (int64, error) {
	loads := make([]*transfer.Transfer, len(nodes))
	for i, node := range nodes {
		node.Clear()
		t, err := in.Load(node, off+int64(i*node.MaxLen()))
		if err != nil {
			waitAll(loads[:i])
			return 0, err
		}
		loads[i] = t
	}

	var firstErr error
	for _, t := range loads {
		if _, err := t.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return 0, firstErr
	}

	var total int64
	stores := make([]*transfer.Transfer, 0, len(nodes))
	eof := false
	for i, node := range nodes {
		if node.IsEmpty() {
			eof = true
			break
		}
		t, err := out.Store(node, off+int64(i*node.MaxLen()))
		if err != nil {
			waitAll(stores)
			return total, err
		}
		stores = append(stores, t)
		if node.Free() > 0 {
			eof = true
			break
		}
	}

	for _, t := range stores {
		n, err := t.Wait()
		total += int64(n)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return total, firstErr
	}
	if eof {
		return total, io.EOF
	}
	return total, nil
}

func waitAll(transfers []*transfer.Transfer) {
	for _, t := range transfers {
		t.Wait()
	}
}
