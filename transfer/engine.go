// Package transfer moves data between a Driver and byte nodes the way a DMA engine would: the node is leased
// for the duration of the transfer and the driver reads or writes its storage directly.
package transfer

import (
	"io"
	"sync"

	"github.com/dop251/dmanode"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Driver is a minimal interface that a transfer driver must implement.
type Driver interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

// Syncer is an optional interface that a driver can implement. If it does, Flush will call it once all
// outstanding stores have completed.
type Syncer interface {
	Sync() error
}

// ProcPool limits the number of transfers running at the same time. It can be shared across engines.
type ProcPool chan struct{}

// Engine runs transfers against a driver.
type Engine struct {
	driver Driver
	syncer Syncer
	pool   ProcPool
	pin    bool

	lock    sync.Mutex
	closed  bool
	allWg   sync.WaitGroup
	storeWg sync.WaitGroup

	log *logrus.Logger
}

// Transfer is a running transfer. The node it was started on must not be touched until Wait returns.
type Transfer struct {
	done chan struct{}
	n    int
	err  error
}

var ErrEngineClosed = errors.New("transfer engine is closed")

// NewProcPool creates a pool allowing up to size simultaneous transfers.
func NewProcPool(size int) ProcPool {
	p := make(ProcPool, size)
	for i := 0; i < size; i++ {
		p <- struct{}{}
	}
	return p
}

func NewEngine(driver Driver) *Engine {
	e := &Engine{
		driver: driver,
	}
	e.syncer, _ = driver.(Syncer)
	return e
}

// SetMaxProc sets the maximum number of concurrently running transfers. The default is 1.
func (e *Engine) SetMaxProc(p int) {
	e.pool = NewProcPool(p)
}

// SetPool sets the pool of transfer slots allowing to use a shared pool across multiple engines.
func (e *Engine) SetPool(pool ProcPool) {
	e.pool = pool
}

// SetLogger sets the logger. If not set logrus.StandardLogger() is used.
func (e *Engine) SetLogger(log *logrus.Logger) {
	e.log = log
}

// SetPinMemory makes the engine lock the leased storage in RAM for the duration of each transfer.
// It is best effort: failures are logged and the transfer proceeds.
func (e *Engine) SetPinMemory(v bool) {
	e.pin = v
}

func (e *Engine) start(store bool) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	if e.pool == nil {
		e.SetMaxProc(1)
	}
	e.allWg.Add(1)
	if store {
		e.storeWg.Add(1)
	}
	return nil
}

// Load reads from the driver at off into the free space of the node. The number of bytes read is added
// to the node length once the transfer completes. Reaching the end of the driver data is not an error.
func (e *Engine) Load(node *dmanode.ByteNode, off int64) (*Transfer, error) {
	lease, err := node.Lease()
	if err != nil {
		return nil, err
	}
	if err := e.start(false); err != nil {
		lease.Release()
		return nil, err
	}

	t := &Transfer{done: make(chan struct{})}
	go func() {
		defer e.allWg.Done()
		<-e.pool
		target := lease.Target()
		unpin := e.pinRegion(target)
		n, err := e.driver.ReadAt(target, off)
		unpin()
		e.pool <- struct{}{}

		if err == io.EOF {
			err = nil
		}
		if err != nil {
			e.log.Errorln("driver.ReadAt returned an error:", err)
			err = errors.Wrapf(err, "load of %d bytes at %d", len(target), off)
		}
		lease.Complete(n)
		e.log.Debugf("Loaded %d bytes at %d", n, off)
		t.finish(n, err)
	}()
	return t, nil
}

// Store writes the valid contents of the node to the driver at off. The node is left unchanged.
func (e *Engine) Store(node *dmanode.ByteNode, off int64) (*Transfer, error) {
	lease, err := node.Lease()
	if err != nil {
		return nil, err
	}
	if err := e.start(true); err != nil {
		lease.Release()
		return nil, err
	}

	t := &Transfer{done: make(chan struct{})}
	go func() {
		defer e.allWg.Done()
		defer e.storeWg.Done()
		<-e.pool
		data := lease.Data()
		unpin := e.pinRegion(data)
		n, err := e.driver.WriteAt(data, off)
		unpin()
		e.pool <- struct{}{}

		if err != nil {
			e.log.Errorln("driver.WriteAt returned an error:", err)
			err = errors.Wrapf(err, "store of %d bytes at %d", len(data), off)
		}
		lease.Release()
		e.log.Debugf("Stored %d bytes at %d", n, off)
		t.finish(n, err)
	}()
	return t, nil
}

// Flush waits for the stores started so far and syncs the driver if it implements Syncer.
func (e *Engine) Flush() error {
	e.storeWg.Wait()
	if e.syncer == nil {
		return nil
	}
	if err := e.syncer.Sync(); err != nil {
		return errors.Wrap(err, "driver sync failed")
	}
	return nil
}

// Close waits for all transfers to complete and closes the driver. Transfers started afterwards fail
// with ErrEngineClosed.
func (e *Engine) Close() error {
	e.lock.Lock()
	if e.closed {
		e.lock.Unlock()
		return nil
	}
	e.closed = true
	e.lock.Unlock()

	e.allWg.Wait()
	return e.driver.Close()
}

func (t *Transfer) finish(n int, err error) {
	t.n = n
	t.err = err
	close(t.done)
}

// Done returns a channel which is closed when the transfer completes.
func (t *Transfer) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the transfer completes and returns the number of bytes transferred.
func (t *Transfer) Wait() (int, error) {
	<-t.done
	return t.n, t.err
}
