package dvb

import (
	"path/filepath"
	"strconv"
)

// Paths holds the device nodes of one adapter.
type Paths struct {
	Frontend string
	Demux    string
	DVR      string
}

// AdapterPaths builds <root>/adapter<N>/{frontend<F>,demux<D>,dvr<R>}.
func AdapterPaths(root string, adapter, frontend, demux, dvr int) Paths {
	dir := filepath.Join(root, "adapter"+strconv.Itoa(adapter))
	return Paths{
		Frontend: filepath.Join(dir, "frontend"+strconv.Itoa(frontend)),
		Demux:    filepath.Join(dir, "demux"+strconv.Itoa(demux)),
		DVR:      filepath.Join(dir, "dvr"+strconv.Itoa(dvr)),
	}
}
