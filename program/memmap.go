package program

// L1 memory map constants. The host-side command builder only needs these
// addresses to be distinct per destination region and processor; spec.md
// does not pin concrete hardware offsets, so the values below are this
// module's own synthetic layout, chosen to mirror the original's naming
// (BRISC_L1_ARG_BASE, NCRISC_L1_ARG_BASE, …) without claiming to reproduce a
// real device's memory map.
const (
	briscL1ArgBase  = 0x0001_0000
	ncriscL1ArgBase = 0x0001_1000
	triscL1ArgBase  = 0x0001_2000

	memBriscInitLocalL1Base  = 0x0002_0000
	memNcriscInitLocalL1Base = 0x0002_1000
	memTrisc0InitLocalL1Base = 0x0002_2000
	memTrisc1InitLocalL1Base = 0x0002_3000
	memTrisc2InitLocalL1Base = 0x0002_4000

	memLocalBase       = 0x8000_0000
	memNcriscIramBase  = 0x4000_0000
	memNcriscInitIramL1Base = 0x0002_5000

	circularBufferConfigBase = 0x0003_0000

	launchMsgBytes = 16
	launchMsgWords = launchMsgBytes / 4
)

// MailboxLaunchAddr is the well-known per-core mailbox slot BuildMap
// targets for every KernelGroup's launch message, and the same address
// the dispatcher bootstrap writes to directly when kicking off the
// producer/consumer firmware cores.
const MailboxLaunchAddr = 0x0004_0000

func l1ArgBase(p Processor) uint32 {
	switch p {
	case BRISC:
		return briscL1ArgBase
	case NCRISC:
		return ncriscL1ArgBase
	default:
		return triscL1ArgBase
	}
}

func localMemBase(p Processor) uint32 {
	switch p {
	case BRISC:
		return memBriscInitLocalL1Base
	case NCRISC:
		return memNcriscInitLocalL1Base
	case TRISC0:
		return memTrisc0InitLocalL1Base
	case TRISC1:
		return memTrisc1InitLocalL1Base
	case TRISC2:
		return memTrisc2InitLocalL1Base
	default:
		return memBriscInitLocalL1Base
	}
}
