package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	dataCmds
	memoryCmds
	typeCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Viewing objects", dataCmds},
	{"Reading raw memory", memoryCmds},
	{"Types, layouts and decoders", typeCmds},
	{"Other commands", otherCmds},
}
