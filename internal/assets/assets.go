package assets

// Store allocates and tracks ephemeral media files on disk. Allocated paths
// are owned by the store until released; ReleaseAll runs at shutdown so
// nothing leaks across restarts.
type Store interface {
	// Allocate reserves a uniquely named, already-created empty file for
	// exclusive write by the caller.
	Allocate(suffix string) (string, error)
	// Release deletes the file if present and stops tracking it.
	Release(path string)
	// ReleaseAll deletes every tracked file.
	ReleaseAll()
	// Exists reports whether the file at path is still on disk. Entries
	// reloaded from persistence may reference files that are gone.
	Exists(path string) bool
}
