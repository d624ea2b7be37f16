package detour

import (
	"strconv"
)

// BypassKind names why a hook declined to handle a call.
type BypassKind uint8

const (
	// BypassPort means the socket port is one we were told to ignore.
	BypassPort BypassKind = iota + 1
	// BypassType means the socket type is not one we handle.
	BypassType
	// BypassDomain means the socket domain is invalid or unhandled.
	BypassDomain
	// BypassUnixSocket means the unix socket address is not configured to go remote.
	BypassUnixSocket
	// BypassLocalFdNotFound means the fd is in neither the open files nor the sockets table.
	BypassLocalFdNotFound
	// BypassLocalDirStreamNotFound is LocalFdNotFound for directory streams.
	BypassLocalDirStreamNotFound
	// BypassAddressConversion means a raw socket address could not be converted.
	BypassAddressConversion
	// BypassInvalidState means the socket is in the wrong state for the operation.
	BypassInvalidState
	// BypassCStrConversion means a C string was not valid UTF-8.
	BypassCStrConversion
	// BypassIgnoredFile means the path is configured to stay local.
	BypassIgnoredFile
	// BypassRelativePath means the operation only handles absolute paths.
	BypassRelativePath
	// BypassReadOnly means the fs mode is read-only but the operation writes.
	BypassReadOnly
	// BypassEmptyBuffer means write was called without a buffer.
	BypassEmptyBuffer
	// BypassEmptyOption means a required optional value was absent.
	BypassEmptyOption
	// BypassNullNode means getaddrinfo was called with a nil node.
	BypassNullNode
	// BypassIgnoreLocalhost means the socket targets localhost and localhost is ignored.
	BypassIgnoreLocalhost
	// BypassBindWhenTargetless means binding remotely makes no sense without a target.
	BypassBindWhenTargetless
	// BypassDisabledOutgoing means outgoing traffic is disabled for this socket.
	BypassDisabledOutgoing
	// BypassDisabledIncoming means incoming traffic is disabled.
	BypassDisabledIncoming
	// BypassLocalHostname means the hostname is resolved locally.
	BypassLocalHostname
	// BypassLocalDNS means DNS is resolved locally.
	BypassLocalDNS
	// BypassNotImplemented means the remote protocol does not support the operation.
	BypassNotImplemented
	// BypassOpenLocal means an operator policy forced the open to be local.
	BypassOpenLocal
)

var bypassKindNames = map[BypassKind]string{
	BypassPort:                   "port",
	BypassType:                   "socket_type",
	BypassDomain:                 "socket_domain",
	BypassUnixSocket:             "unix_socket",
	BypassLocalFdNotFound:        "local_fd_not_found",
	BypassLocalDirStreamNotFound: "local_dir_stream_not_found",
	BypassAddressConversion:      "address_conversion",
	BypassInvalidState:           "invalid_state",
	BypassCStrConversion:         "cstr_conversion",
	BypassIgnoredFile:            "ignored_file",
	BypassRelativePath:           "relative_path",
	BypassReadOnly:               "read_only",
	BypassEmptyBuffer:            "empty_buffer",
	BypassEmptyOption:            "empty_option",
	BypassNullNode:               "null_node",
	BypassIgnoreLocalhost:        "ignore_localhost",
	BypassBindWhenTargetless:     "bind_when_targetless",
	BypassDisabledOutgoing:       "disabled_outgoing",
	BypassDisabledIncoming:       "disabled_incoming",
	BypassLocalHostname:          "local_hostname",
	BypassLocalDNS:               "local_dns",
	BypassNotImplemented:         "not_implemented",
	BypassOpenLocal:              "open_local",
}

func (k BypassKind) String() string {
	if name, ok := bypassKindNames[k]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(k)) + ")"
}

// Bypass is a soft failure: the hook gives up and the original native
// function runs with the same arguments. Only the payload field relevant to
// Kind is set, so two reasons compare equal with == when they describe the
// same condition.
//
// Bypass implements error so that a (value, Bypass) pair can flow through
// FromResult, but it is never a hard error.
type Bypass struct {
	Kind BypassKind

	Port uint16
	// Code holds a socket type or domain.
	Code int
	Fd   int
	// Stream identifies a directory stream.
	Stream uintptr
	// Path is set for path based reasons. HasPath distinguishes an empty
	// unix socket path from none at all.
	Path    string
	HasPath bool
}

func Port(port uint16) Bypass            { return Bypass{Kind: BypassPort, Port: port} }
func SocketType(typ int) Bypass          { return Bypass{Kind: BypassType, Code: typ} }
func Domain(domain int) Bypass           { return Bypass{Kind: BypassDomain, Code: domain} }
func LocalFdNotFound(fd int) Bypass      { return Bypass{Kind: BypassLocalFdNotFound, Fd: fd} }
func InvalidState(fd int) Bypass         { return Bypass{Kind: BypassInvalidState, Fd: fd} }
func IgnoreLocalhost(port uint16) Bypass { return Bypass{Kind: BypassIgnoreLocalhost, Port: port} }

func LocalDirStreamNotFound(stream uintptr) Bypass {
	return Bypass{Kind: BypassLocalDirStreamNotFound, Stream: stream}
}

// UnixSocket builds the reason for an unnamed (path == nil) or unmatched unix socket.
func UnixSocket(path *string) Bypass {
	b := Bypass{Kind: BypassUnixSocket}
	if path != nil {
		b.Path, b.HasPath = *path, true
	}
	return b
}

func IgnoredFile(path string) Bypass  { return pathBypass(BypassIgnoredFile, path) }
func RelativePath(path string) Bypass { return pathBypass(BypassRelativePath, path) }
func ReadOnly(path string) Bypass     { return pathBypass(BypassReadOnly, path) }

func pathBypass(kind BypassKind, path string) Bypass {
	return Bypass{Kind: kind, Path: path, HasPath: true}
}

// Payload-free reasons.
var (
	AddressConversion  = Bypass{Kind: BypassAddressConversion}
	CStrConversion     = Bypass{Kind: BypassCStrConversion}
	EmptyBuffer        = Bypass{Kind: BypassEmptyBuffer}
	EmptyOption        = Bypass{Kind: BypassEmptyOption}
	NullNode           = Bypass{Kind: BypassNullNode}
	BindWhenTargetless = Bypass{Kind: BypassBindWhenTargetless}
	DisabledOutgoing   = Bypass{Kind: BypassDisabledOutgoing}
	DisabledIncoming   = Bypass{Kind: BypassDisabledIncoming}
	LocalHostname      = Bypass{Kind: BypassLocalHostname}
	LocalDNS           = Bypass{Kind: BypassLocalDNS}
	NotImplemented     = Bypass{Kind: BypassNotImplemented}
	OpenLocal          = Bypass{Kind: BypassOpenLocal}
)

// String renders the reason with its payload, for example "local_fd_not_found(7)".
func (b Bypass) String() string {
	name := b.Kind.String()
	switch b.Kind {
	case BypassPort, BypassIgnoreLocalhost:
		return name + "(" + strconv.Itoa(int(b.Port)) + ")"
	case BypassType, BypassDomain:
		return name + "(" + strconv.Itoa(b.Code) + ")"
	case BypassLocalFdNotFound, BypassInvalidState:
		return name + "(" + strconv.Itoa(b.Fd) + ")"
	case BypassLocalDirStreamNotFound:
		return name + "(0x" + strconv.FormatUint(uint64(b.Stream), 16) + ")"
	case BypassUnixSocket, BypassIgnoredFile, BypassRelativePath, BypassReadOnly:
		if !b.HasPath {
			return name
		}
		return name + "(" + strconv.Quote(b.Path) + ")"
	default:
		return name
	}
}

func (b Bypass) Error() string {
	return "bypass: " + b.String()
}

// Attrs returns slog key/value pairs describing the reason.
func (b Bypass) Attrs() []any {
	attrs := []any{"reason", b.Kind.String()}
	switch b.Kind {
	case BypassPort, BypassIgnoreLocalhost:
		attrs = append(attrs, "port", b.Port)
	case BypassType, BypassDomain:
		attrs = append(attrs, "code", b.Code)
	case BypassLocalFdNotFound, BypassInvalidState:
		attrs = append(attrs, "fd", b.Fd)
	case BypassLocalDirStreamNotFound:
		attrs = append(attrs, "stream", b.Stream)
	}
	if b.HasPath {
		attrs = append(attrs, "path", b.Path)
	}
	return attrs
}
