package mmu

import "strings"

// flagTags lists the flags reported by FormatFlags, highest priority first.
var flagTags = []struct {
	flag Flag
	tag  string
}{
	{FlagAvail, "AV"},
	{FlagGlobal, "G"},
	{FlagSuperPage, "PS"},
	{FlagDirty, "D"},
	{FlagAccessed, "A"},
	{FlagCacheDisable, "CD"},
	{FlagWriteThrough, "WT"},
	{FlagUser, "U"},
	{FlagWritable, "W"},
}

// FormatFlags renders the flag bits of e as a bracketed tag list, for
// example "[U W - - - - - - - P]".
//
// Each of the nine slots reports the highest priority flag that has not
// been reported yet and consumes it, or "-" when none are left. The three
// available bits are consumed together, so an entry with several of them
// set only shows a single AV tag.
func FormatFlags(e Entry) string {
	left := e.Flags()

	var buf strings.Builder
	buf.WriteByte('[')
	for i := 0; i < len(flagTags); i++ {
		tag := "-"
		for _, ft := range flagTags {
			if left&ft.flag != 0 {
				tag = ft.tag
				left &^= ft.flag
				break
			}
		}
		buf.WriteString(tag)
		buf.WriteByte(' ')
	}
	if left&FlagPresent != 0 {
		buf.WriteString("P]")
	} else {
		buf.WriteString("-]")
	}
	return buf.String()
}
