// Package dispatch implements the Dispatcher Bootstrap (spec.md §4.F):
// the one-time setup of the producer/consumer firmware cores that drain
// the host command ring, run on first queue construction per device.
package dispatch

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/accelrt/cq/coord"
	"github.com/accelrt/cq/program"
	"github.com/accelrt/cq/ring"
)

// Initial semaphore values for the two dispatch cores, preserved
// literally from the original's CreateSemaphore calls: the producer
// starts "ahead" so its first NOC_SEMAPHORE_WAIT is already satisfied,
// the consumer starts at zero and waits for the producer's signal.
const (
	ProducerSemaphoreInitial = 2
	ConsumerSemaphoreInitial = 0
)

// SemaphoreAddr is the per-core L1 address the bootstrap publishes each
// dispatch core's initial semaphore value to. This module's own
// synthetic address (spec.md does not pin one).
const SemaphoreAddr uint32 = 0x6000

// KernelSource supplies the launch messages for the two dispatch-core
// firmware kernels (producer/consumer), parameterized by the other
// core's physical coordinates the way the original bakes
// CONSUMER_NOC_X/Y and PRODUCER_NOC_X/Y into preprocessor defines at
// compile time. Kernel compilation itself is out of scope (spec.md §1);
// a KernelSource stands in for "already compiled, here is what to launch
// with."
type KernelSource interface {
	ProducerLaunchMsg(consumerPhysical coord.CoreCoord) [4]uint32
	ConsumerLaunchMsg(producerPhysical coord.CoreCoord) [4]uint32
}

// DefaultKernelSource bakes the peer core's physical (x, y) into words
// 1 and 2 of the launch message, mirroring the original's NOC-coordinate
// defines, word 0 carries DISPATCH_MODE_DEV the way every launch message
// does (program.BuildMap's pass 5 stamps the same value).
type DefaultKernelSource struct{}

func (DefaultKernelSource) ProducerLaunchMsg(consumerPhysical coord.CoreCoord) [4]uint32 {
	return [4]uint32{program.DispatchModeDev, consumerPhysical.X, consumerPhysical.Y, 0}
}

func (DefaultKernelSource) ConsumerLaunchMsg(producerPhysical coord.CoreCoord) [4]uint32 {
	return [4]uint32{program.DispatchModeDev, producerPhysical.X, producerPhysical.Y, 0}
}

// Bootstrapper runs the dispatcher bootstrap exactly once per device
// key, coalescing concurrent first callers via singleflight and
// remembering completed keys so later, non-concurrent queue
// constructions on the same device skip the step entirely — the
// "subsequent command queues on the same device skip this step"
// requirement in spec.md §4.F, which plain singleflight alone (coalesces
// only in-flight duplicates) does not provide.
type Bootstrapper struct {
	group singleflight.Group

	mu   sync.Mutex
	done map[string]struct{}
}

// NewBootstrapper returns a Bootstrapper with no devices yet bootstrapped.
func NewBootstrapper() *Bootstrapper {
	return &Bootstrapper{done: make(map[string]struct{})}
}

// Ensure runs the bootstrap for deviceKey if it hasn't already
// succeeded, coalescing any concurrent callers for the same key into a
// single run.
func (b *Bootstrapper) Ensure(
	deviceKey string,
	drv ring.Driver,
	enc coord.Encoder,
	producerLogical, consumerLogical coord.CoreCoord,
	source KernelSource,
) error {
	b.mu.Lock()
	_, already := b.done[deviceKey]
	b.mu.Unlock()
	if already {
		return nil
	}

	_, err, _ := b.group.Do(deviceKey, func() (interface{}, error) {
		b.mu.Lock()
		_, already := b.done[deviceKey]
		b.mu.Unlock()
		if already {
			return nil, nil
		}
		if err := bootstrap(drv, enc, producerLogical, consumerLogical, source); err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.done[deviceKey] = struct{}{}
		b.mu.Unlock()
		return nil, nil
	})
	return err
}

func bootstrap(
	drv ring.Driver,
	enc coord.Encoder,
	producerLogical, consumerLogical coord.CoreCoord,
	source KernelSource,
) error {
	producerPhys, err := enc.PhysicalFromLogical(producerLogical)
	if err != nil {
		return fmt.Errorf("dispatch: resolve producer core: %w", err)
	}
	consumerPhys, err := enc.PhysicalFromLogical(consumerLogical)
	if err != nil {
		return fmt.Errorf("dispatch: resolve consumer core: %w", err)
	}

	// Initial ring pointers, in 16-byte units. Per spec.md §4.F the host
	// side initializes to CQStart/16; the device-side L1 mirror is
	// published to the same value here since this module's derivation
	// in the ring package reconciles HostCQFinishPtr+32 with CQStart.
	fifoAddr := uint32((ring.HostCQFinishPtr + 32) / 16)
	if err := drv.WriteDeviceL1(producerPhys, ring.CQReadPtrAddr, []uint32{fifoAddr}); err != nil {
		return fmt.Errorf("dispatch: publish initial rd_ptr: %w", err)
	}
	if err := drv.WriteDeviceL1(producerPhys, ring.CQWritePtrAddr, []uint32{fifoAddr}); err != nil {
		return fmt.Errorf("dispatch: publish initial wr_ptr: %w", err)
	}
	if err := drv.WriteDeviceL1(producerPhys, ring.CQReadToggleAddr, []uint32{0}); err != nil {
		return fmt.Errorf("dispatch: publish initial rd_toggle: %w", err)
	}
	if err := drv.WriteDeviceL1(producerPhys, ring.CQWriteToggleAddr, []uint32{0}); err != nil {
		return fmt.Errorf("dispatch: publish initial wr_toggle: %w", err)
	}

	if err := drv.WriteDeviceL1(producerPhys, SemaphoreAddr, []uint32{ProducerSemaphoreInitial}); err != nil {
		return fmt.Errorf("dispatch: publish producer semaphore: %w", err)
	}
	if err := drv.WriteDeviceL1(consumerPhys, SemaphoreAddr, []uint32{ConsumerSemaphoreInitial}); err != nil {
		return fmt.Errorf("dispatch: publish consumer semaphore: %w", err)
	}

	producerMsg := source.ProducerLaunchMsg(consumerPhys)
	consumerMsg := source.ConsumerLaunchMsg(producerPhys)
	if err := drv.WriteDeviceL1(producerPhys, program.MailboxLaunchAddr, producerMsg[:]); err != nil {
		return fmt.Errorf("dispatch: launch producer core: %w", err)
	}
	if err := drv.WriteDeviceL1(consumerPhys, program.MailboxLaunchAddr, consumerMsg[:]); err != nil {
		return fmt.Errorf("dispatch: launch consumer core: %w", err)
	}
	return nil
}
