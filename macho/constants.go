package macho

const (
	magic32 uint32 = 0xfeedface
	magic64 uint32 = 0xfeedfacf
	cigam32 uint32 = 0xcefaedfe
	cigam64 uint32 = 0xcffaedfe

	fatMagic   uint32 = 0xcafebabe
	fatMagic64 uint32 = 0xcafebabf
)

// LoadCmd is a Mach-O load command identifier.
type LoadCmd uint32

const (
	LoadCmdSegment         LoadCmd = 0x1
	LoadCmdLoadDylib       LoadCmd = 0xc
	LoadCmdSegment64       LoadCmd = 0x19
	LoadCmdLoadWeakDylib   LoadCmd = 0x80000018
	LoadCmdReexportDylib   LoadCmd = 0x8000001f
	LoadCmdLazyLoadDylib   LoadCmd = 0x20
	LoadCmdLoadUpwardDylib LoadCmd = 0x80000023
)

// dylibCmds are the load commands carrying a dylib_command payload.
var dylibCmds = map[LoadCmd]bool{
	LoadCmdLoadDylib:       true,
	LoadCmdLoadWeakDylib:   true,
	LoadCmdReexportDylib:   true,
	LoadCmdLazyLoadDylib:   true,
	LoadCmdLoadUpwardDylib: true,
}

const (
	header32Size = 28
	header64Size = 32

	segment32Size = 56
	segment64Size = 72
	section32Size = 68
	section64Size = 80

	dylibCmdSize = 24

	// Values written in new dylib commands.
	dylibTimestamp = 2
	dylibVersion   = 0x10000
)
