// Package driver provides the device-boundary implementations of
// ring.Driver: an in-process simulated device for tests and demos
// (Sim), and an optional real-hardware backend behind a build tag.
package driver

import (
	"fmt"
	"sync"
	"time"

	"github.com/accelrt/cq/coord"
	"github.com/accelrt/cq/ring"
)

type l1Key struct {
	core coord.CoreCoord
	addr uint32
}

// Sim is an in-process stand-in for the PCIe/shared-memory device
// driver spec.md §6 names but leaves external. It backs the host ring
// with a real pinned ring.HostRegion and runs a background goroutine
// that drains whatever the producer publishes, simulating firmware
// consumption instantly (minus a configurable latency) — the worker
// lifecycle (stop channel, done channel, goroutine running a loop)
// mirrors coproc_worker_ie32.go's construction shape.
type Sim struct {
	mu     sync.Mutex
	region *ring.HostRegion
	l1     map[l1Key][]uint32
	dram   map[uint32]byte

	rdPtr    uint32
	rdToggle uint32

	latency time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewSim constructs a Sim backed by a capacity-byte pinned region and
// starts its drain loop. Callers must call Close when done.
func NewSim(capacity uint32, latency time.Duration) (*Sim, error) {
	region, err := ring.NewHostRegion(capacity)
	if err != nil {
		return nil, fmt.Errorf("driver: new sim: %w", err)
	}
	region.WriteWords([]uint32{ring.CQStart / 16, 0}, 0)

	s := &Sim{
		region:   region,
		l1:       make(map[l1Key][]uint32),
		dram:     make(map[uint32]byte),
		rdPtr:    ring.CQStart / 16,
		latency:  latency,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.drain()
	return s, nil
}

// Close stops the drain goroutine and releases the pinned region.
func (s *Sim) Close() error {
	close(s.stop)
	<-s.done
	return s.region.Close()
}

func (s *Sim) WriteHostRegion(words []uint32, byteOffset uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.region.WriteWords(words, byteOffset)
	return nil
}

func (s *Sim) ReadHostRegion(byteOffset, numWords uint32) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.region.ReadWords(byteOffset, numWords), nil
}

func (s *Sim) WriteDeviceL1(core coord.CoreCoord, addr uint32, words []uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]uint32(nil), words...)
	s.l1[l1Key{core, addr}] = cp
	return nil
}

// ReadDeviceL1 lets tests and the demo binary observe what the sim
// firmware was told (launch messages, semaphore-adjacent registers).
func (s *Sim) ReadDeviceL1(core coord.CoreCoord, addr uint32) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.l1[l1Key{core, addr}]...)
}

// ReadDRAM and WriteDRAM back the queue package's buffer commands with a
// flat, sparse device-memory store. The real firmware is what actually
// moves bytes between device DRAM/L1 and the ring (out of scope per this
// module's non-goals); Sim stands in for that DMA step directly rather
// than parsing the wire format to discover buffer transfers, since only
// the host-visible protocol needs to be exercised faithfully, not a
// byte-accurate firmware.
func (s *Sim) WriteDRAM(addr uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range data {
		s.dram[addr+uint32(i)] = b
	}
	return nil
}

func (s *Sim) ReadDRAM(addr, numBytes uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, numBytes)
	for i := range out {
		out[i] = s.dram[addr+uint32(i)]
	}
	return out, nil
}

// drain watches every producer core it has seen publish a write
// pointer and copies it into rdPtr/rdToggle after latency, as if the
// firmware had consumed the whole pending range instantly. It also
// looks at the header word for the finish flag (word index 2 of a
// Device Command Record) at the previous read position and, if set,
// publishes 1 into the host region's finish word — just enough firmware
// behavior to exercise Finish's poll-and-reset round trip in tests.
func (s *Sim) drain() {
	defer close(s.done)
	ticker := time.NewTicker(s.latencyOrDefault())
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Sim) latencyOrDefault() time.Duration {
	if s.latency <= 0 {
		return 100 * time.Microsecond
	}
	return s.latency
}

func (s *Sim) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var wrPtr, wrToggle uint32
	for k, v := range s.l1 {
		if k.addr == ring.CQWritePtrAddr {
			wrPtr = v[0]
		}
		if k.addr == ring.CQWriteToggleAddr {
			wrToggle = v[0]
		}
	}
	if wrPtr == s.rdPtr && wrToggle == s.rdToggle {
		return
	}

	oldRdByte := s.rdPtr << 4
	header := s.region.ReadWords(oldRdByte, 3)
	finishFlag := len(header) == 3 && header[2] == 1

	s.rdPtr, s.rdToggle = wrPtr, wrToggle
	s.region.WriteWords([]uint32{s.rdPtr, s.rdToggle}, 0)

	if finishFlag {
		s.region.WriteWords([]uint32{1}, ring.HostCQFinishPtr)
	}
}
