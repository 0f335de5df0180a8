// Package protocol defines the cpid wire messages and their codecs.
//
// Every frame is a two-element array: a correlation id followed by a
// tagged object whose "type" field names the command or result. A client
// may send several requests before reading any reply and match replies by
// id.
package protocol

import "github.com/Aman-CERP/cpid/internal/index"

// Command type tags.
const (
	TypeClassQuery            = "ClassQuery"
	TypeMultiClassQuery       = "MultiClassQuery"
	TypePackageQuery          = "PackageQuery"
	TypeMultiPackageQuery     = "MultiPackageQuery"
	TypeReindexPathCmd        = "ReindexPathCmd"
	TypeReindexClasspathCmd   = "ReindexClasspathCmd"
	TypeReindexProjectPathCmd = "ReindexProjectPathCmd"
	TypeListIndexesQuery      = "ListIndexesQuery"
	TypeDropIndexCmd          = "DropIndexCmd"
	TypeShutdownCmd           = "ShutdownCmd"
)

// Result type tags.
const (
	TypeNullResponse         = "NullResponse"
	TypeClassQueryResponse   = "ClassQueryResponse"
	TypePackageQueryResponse = "PackageQueryResponse"
	TypeIndexListResponse    = "IndexListResponse"
	TypeErrorResponse        = "ErrorResponse"
)

// Command is a request sent by a client. The set of commands is closed;
// only types in this package implement it.
type Command interface {
	CommandType() string
	isCommand()
}

// Result is a reply sent by the server.
type Result interface {
	ResultType() string
	isResult()
}

// Request is one framed command.
type Request struct {
	ID      uint64
	Command Command
}

// Reply is one framed result.
type Reply struct {
	ID     uint64
	Result Result
}

// ClassQuery looks up the packages declaring a class.
type ClassQuery struct {
	IndexName string `json:"index_name"`
	ClassName string `json:"class_name"`
}

// MultiClassQuery looks up several classes across several indexes.
type MultiClassQuery struct {
	IndexNames []string `json:"index_names"`
	ClassNames []string `json:"class_names"`
}

// PackageQuery lists the classes of a package.
type PackageQuery struct {
	IndexName   string `json:"index_name"`
	PackageName string `json:"package_name"`
}

// MultiPackageQuery lists the classes of several packages across several
// indexes.
type MultiPackageQuery struct {
	IndexNames   []string `json:"index_names"`
	PackageNames []string `json:"package_names"`
}

// ReindexPathCmd indexes a jar directory, a module image or a classpath,
// whichever ArchiveSource turns out to be.
type ReindexPathCmd struct {
	IndexName     string `json:"index_name"`
	ArchiveSource string `json:"archive_source"`
}

// ReindexClasspathCmd indexes a colon-separated classpath.
type ReindexClasspathCmd struct {
	IndexName     string `json:"index_name"`
	ArchiveSource string `json:"archive_source"`
}

// ReindexProjectPathCmd indexes the Java sources under ProjectPath.
type ReindexProjectPathCmd struct {
	IndexName   string `json:"index_name"`
	ProjectPath string `json:"project_path"`
}

// ListIndexesQuery lists the known indexes.
type ListIndexesQuery struct{}

// DropIndexCmd deletes an index.
type DropIndexCmd struct {
	IndexName string `json:"index_name"`
}

// ShutdownCmd asks the server to stop. It has no reply.
type ShutdownCmd struct{}

func (ClassQuery) CommandType() string            { return TypeClassQuery }
func (MultiClassQuery) CommandType() string       { return TypeMultiClassQuery }
func (PackageQuery) CommandType() string          { return TypePackageQuery }
func (MultiPackageQuery) CommandType() string     { return TypeMultiPackageQuery }
func (ReindexPathCmd) CommandType() string        { return TypeReindexPathCmd }
func (ReindexClasspathCmd) CommandType() string   { return TypeReindexClasspathCmd }
func (ReindexProjectPathCmd) CommandType() string { return TypeReindexProjectPathCmd }
func (ListIndexesQuery) CommandType() string      { return TypeListIndexesQuery }
func (DropIndexCmd) CommandType() string          { return TypeDropIndexCmd }
func (ShutdownCmd) CommandType() string           { return TypeShutdownCmd }

func (ClassQuery) isCommand()            {}
func (MultiClassQuery) isCommand()       {}
func (PackageQuery) isCommand()          {}
func (MultiPackageQuery) isCommand()     {}
func (ReindexPathCmd) isCommand()        {}
func (ReindexClasspathCmd) isCommand()   {}
func (ReindexProjectPathCmd) isCommand() {}
func (ListIndexesQuery) isCommand()      {}
func (DropIndexCmd) isCommand()          {}
func (ShutdownCmd) isCommand()           {}

// NullResponse acknowledges a command that returns nothing.
type NullResponse struct{}

// ClassQueryResponse maps each queried class to its packages.
type ClassQueryResponse struct {
	Results index.Results `json:"results"`
}

// PackageQueryResponse maps each queried package to its classes.
type PackageQueryResponse struct {
	Results index.Results `json:"results"`
}

// IndexListResponse lists index names.
type IndexListResponse struct {
	Indexes []string `json:"indexes"`
}

// ErrorResponse reports a failed command. Code is an ERR_XXX code.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (NullResponse) ResultType() string         { return TypeNullResponse }
func (ClassQueryResponse) ResultType() string   { return TypeClassQueryResponse }
func (PackageQueryResponse) ResultType() string { return TypePackageQueryResponse }
func (IndexListResponse) ResultType() string    { return TypeIndexListResponse }
func (ErrorResponse) ResultType() string        { return TypeErrorResponse }

func (NullResponse) isResult()         {}
func (ClassQueryResponse) isResult()   {}
func (PackageQueryResponse) isResult() {}
func (IndexListResponse) isResult()    {}
func (ErrorResponse) isResult()        {}

// Error lets an ErrorResponse be returned as a Go error by clients.
func (e ErrorResponse) Error() string {
	return e.Code + ": " + e.Message
}
