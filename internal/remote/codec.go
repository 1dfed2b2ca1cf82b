package remote

// Codec maps between a file's display form (what lives in the local mirror
// and what users edit) and its storage form (what the flat remote store
// actually holds). The mapping is an opaque pure function pair supplied by
// the content-transformation layer; hashing and remote writes always use
// the storage form, diffs shown to users always use the display form.
type Codec interface {
	// Wrap converts display-form content to storage form for path.
	Wrap(path, display string) string
	// Unwrap converts storage-form content to display form for path.
	Unwrap(path, storage string) string
}

type identityCodec struct{}

func (identityCodec) Wrap(_, display string) string   { return display }
func (identityCodec) Unwrap(_, storage string) string { return storage }

// IdentityCodec returns a Codec whose storage and display forms are the
// same. Used when the remote store holds files verbatim.
func IdentityCodec() Codec {
	return identityCodec{}
}
