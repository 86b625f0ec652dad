package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	kernelCmds
	mappingCmds
	dataCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Inspecting the kernel", kernelCmds},
	{"Viewing and editing page mappings", mappingCmds},
	{"Viewing memory", dataCmds},
	{"Other commands", otherCmds},
}
