//go:build vulkan

// This file, like the teacher's voodoo_vulkan.go, ships a real backend
// name in go.mod (github.com/goki/vulkan) behind a build tag that is not
// on by default: a real PCIe/shared-memory driver needs a real device
// and real hardware-specific address translation neither this module
// nor its test suite has access to, so it stays a thin, documented TODO
// rather than a fabricated implementation.
package driver

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/accelrt/cq/coord"
)

func errVulkanInstance(ret vk.Result) error {
	return fmt.Errorf("driver: vkCreateInstance failed: %d", ret)
}

func errNotImplemented(op string) error {
	return fmt.Errorf("driver: VulkanDriver.%s not implemented (no real device apertures wired)", op)
}

// VulkanDriver is the real-hardware counterpart to Sim: a ring.Driver
// implementation that would DMA into an actual device-visible mapping
// via a Vulkan external-memory import, instead of Sim's in-process
// pinned region. Constructing one succeeds (Vulkan instance/device
// selection is generic), but the three ring.Driver methods are not
// implemented: the device-specific host/device memory aperture mapping
// they require is out of scope for this module (spec.md §1: "Device
// drivers (PCIe / shared memory mapping). Specified only as an
// interface").
type VulkanDriver struct {
	instance vk.Instance
}

// NewVulkanDriver creates a Vulkan instance for a future real backend.
func NewVulkanDriver() (*VulkanDriver, error) {
	if err := vk.Init(); err != nil {
		return nil, err
	}
	appInfo := vk.ApplicationInfo{
		SType:      vk.StructureTypeApplicationInfo,
		ApiVersion: vk.MakeVersion(1, 0, 0),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &appInfo,
	}
	var instance vk.Instance
	if ret := vk.CreateInstance(&createInfo, nil, &instance); ret != vk.Success {
		return nil, errVulkanInstance(ret)
	}
	return &VulkanDriver{instance: instance}, nil
}

func (d *VulkanDriver) WriteHostRegion(words []uint32, byteOffset uint32) error {
	return errNotImplemented("WriteHostRegion")
}

func (d *VulkanDriver) ReadHostRegion(byteOffset, numWords uint32) ([]uint32, error) {
	return nil, errNotImplemented("ReadHostRegion")
}

func (d *VulkanDriver) WriteDeviceL1(core coord.CoreCoord, addr uint32, words []uint32) error {
	return errNotImplemented("WriteDeviceL1")
}
