package macho

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// loadCommand is a view on one load command of a slice.
type loadCommand struct {
	cmd  LoadCmd
	body []byte
}

// commands walks the load command region of the slice.
func (s *Slice) commands() (cmds []loadCommand, order binary.ByteOrder, is64 bool, end int, err error) {
	order, is64, err = s.header()
	if err != nil {
		return nil, nil, false, 0, err
	}
	off := header32Size
	if is64 {
		off = header64Size
	}
	ncmds := order.Uint32(s.data[16:])
	sizeofcmds := order.Uint32(s.data[20:])
	end = off + int(sizeofcmds)
	if end > len(s.data) {
		return nil, nil, false, 0, fmt.Errorf("%w: load commands exceed slice", ErrMalformed)
	}

	for i := uint32(0); i < ncmds; i++ {
		if off+8 > end {
			return nil, nil, false, 0, fmt.Errorf("%w: load command %d truncated", ErrMalformed, i)
		}
		cmd := order.Uint32(s.data[off:])
		size := int(order.Uint32(s.data[off+4:]))
		if size < 8 || off+size > end {
			return nil, nil, false, 0, fmt.Errorf("%w: load command %d has size %d", ErrMalformed, i, size)
		}
		cmds = append(cmds, loadCommand{cmd: LoadCmd(cmd), body: s.data[off : off+size]})
		off += size
	}
	return cmds, order, is64, end, nil
}

// LoadDependencies lists the install names of every dylib load command, in
// command order.
func (s *Slice) LoadDependencies() ([]string, error) {
	cmds, order, _, _, err := s.commands()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, c := range cmds {
		if !dylibCmds[c.cmd] || len(c.body) < dylibCmdSize {
			continue
		}
		nameOff := int(order.Uint32(c.body[8:]))
		if nameOff >= len(c.body) {
			continue
		}
		name := c.body[nameOff:]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		names = append(names, string(name))
	}
	return names, nil
}

// paddingLimit returns the first file offset used by segment or section
// content, which bounds the space available for new load commands.
func paddingLimit(cmds []loadCommand, order binary.ByteOrder, is64 bool, sliceSize int) int {
	limit := sliceSize
	lower := func(v uint64) {
		if v > 0 && v < uint64(limit) {
			limit = int(v)
		}
	}

	for _, c := range cmds {
		switch {
		case c.cmd == LoadCmdSegment64 && is64 && len(c.body) >= segment64Size:
			fileoff := order.Uint64(c.body[40:])
			filesize := order.Uint64(c.body[48:])
			if filesize > 0 {
				lower(fileoff)
			}
			nsects := int(order.Uint32(c.body[64:]))
			for i := 0; i < nsects; i++ {
				p := segment64Size + i*section64Size
				if p+section64Size > len(c.body) {
					break
				}
				lower(uint64(order.Uint32(c.body[p+48:])))
			}
		case c.cmd == LoadCmdSegment && !is64 && len(c.body) >= segment32Size:
			fileoff := order.Uint32(c.body[32:])
			filesize := order.Uint32(c.body[36:])
			if filesize > 0 {
				lower(uint64(fileoff))
			}
			nsects := int(order.Uint32(c.body[48:]))
			for i := 0; i < nsects; i++ {
				p := segment32Size + i*section32Size
				if p+section32Size > len(c.body) {
					break
				}
				lower(uint64(order.Uint32(c.body[p+40:])))
			}
		}
	}
	return limit
}

// AddLoadDependency appends an LC_LOAD_DYLIB command for name. Existing
// commands are not inspected, so adding the same name twice yields two
// commands.
func (s *Slice) AddLoadDependency(name string) error {
	cmds, order, is64, end, err := s.commands()
	if err != nil {
		return err
	}

	align := 4
	if is64 {
		align = 8
	}
	size := dylibCmdSize + len(name) + 1
	size = (size + align - 1) &^ (align - 1)

	limit := paddingLimit(cmds, order, is64, len(s.data))
	if end+size > limit {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrNoSpace, size, limit-end)
	}
	region := s.data[end : end+size]
	for _, b := range region {
		if b != 0 {
			return fmt.Errorf("%w: padding is not empty", ErrNoSpace)
		}
	}

	order.PutUint32(region[0:], uint32(LoadCmdLoadDylib))
	order.PutUint32(region[4:], uint32(size))
	order.PutUint32(region[8:], dylibCmdSize)
	order.PutUint32(region[12:], dylibTimestamp)
	order.PutUint32(region[16:], dylibVersion)
	order.PutUint32(region[20:], dylibVersion)
	copy(region[dylibCmdSize:], name)

	order.PutUint32(s.data[16:], uint32(len(cmds)+1))
	order.PutUint32(s.data[20:], uint32(end+size-headerSize(is64)))
	return nil
}

func headerSize(is64 bool) int {
	if is64 {
		return header64Size
	}
	return header32Size
}
