package deb

// ControlField represents a field in a Debian control file.
type ControlField string

const (
	FieldPackage       ControlField = "Package"
	FieldName          ControlField = "Name"
	FieldVersion       ControlField = "Version"
	FieldArchitecture  ControlField = "Architecture"
	FieldMaintainer    ControlField = "Maintainer"
	FieldAuthor        ControlField = "Author"
	FieldDescription   ControlField = "Description"
	FieldSection       ControlField = "Section"
	FieldDepends       ControlField = "Depends"
	FieldInstalledSize ControlField = "Installed-Size"
)

// ControlFile represents a file found in the control archive.
type ControlFile string

const (
	FileControl ControlFile = "control"
	FileMd5sums ControlFile = "md5sums"
)

// PackageFile represents a member of the .deb archive (ar format).
type PackageFile string

const (
	PkgDebianBinary PackageFile = "debian-binary"
	PkgControlTarGz PackageFile = "control.tar.gz"

	// DataPrefix is the common prefix of every data payload member,
	// whatever its compression (data.tar, data.tar.gz, data.tar.xz, ...).
	DataPrefix = "data.tar"
	// ControlPrefix is the common prefix of every control member.
	ControlPrefix = "control.tar"
)

// Compression selects the wrapper used for the data member when writing a
// package.
type Compression string

const (
	CompressGzip Compression = "gz"
	CompressXz   Compression = "xz"
	CompressNone Compression = ""
)

// memberName returns the data member name for the compression.
func (c Compression) memberName() string {
	if c == CompressNone {
		return DataPrefix
	}
	return DataPrefix + "." + string(c)
}
