package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tatianab/storyforge/internal/models"
)

// Artifacts written since schema version 3 start with an integrity header:
//
//	# storyforge-save v3 sha256=<hex digest of the body>
//
// followed by the YAML body. Being a YAML comment, the header keeps the file
// readable by any YAML tool. Older releases wrote bare JSON (v1) or YAML (v2).
const (
	headerMagic        = "storyforge-save"
	firstHeaderVersion = 3
)

var errNoVersion = errors.New("no schema version found")

// artifact is a parsed but not yet decoded save file.
type artifact struct {
	version  int
	body     []byte
	verified bool // integrity header present and checksum matched
}

func encodeArtifact(s *models.GameState) ([]byte, error) {
	body, err := yaml.Marshal(s)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(body)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s v%d sha256=%s\n", headerMagic, s.SchemaVersion, hex.EncodeToString(sum[:]))
	buf.Write(body)
	return buf.Bytes(), nil
}

func parseArtifact(data []byte) (*artifact, error) {
	a := &artifact{body: data}

	if bytes.HasPrefix(data, []byte("# "+headerMagic)) {
		line, body, ok := bytes.Cut(data, []byte("\n"))
		if !ok {
			return nil, errors.New("truncated header")
		}
		version, digest, err := parseHeader(string(line))
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(body)
		if hex.EncodeToString(sum[:]) != digest {
			return nil, errors.New("checksum mismatch")
		}
		a.version, a.body, a.verified = version, body, true
	}

	embedded, err := embeddedVersion(a.body)
	if err != nil {
		return nil, err
	}
	switch {
	case a.verified && embedded != a.version:
		return nil, fmt.Errorf("header version %d does not match body version %d", a.version, embedded)
	case !a.verified && embedded >= firstHeaderVersion:
		return nil, fmt.Errorf("version %d artifact without integrity header", embedded)
	}
	a.version = embedded
	return a, nil
}

func parseHeader(line string) (version int, digest string, err error) {
	fields := strings.Fields(line)
	if len(fields) != 4 || fields[0] != "#" || fields[1] != headerMagic {
		return 0, "", fmt.Errorf("malformed header %q", line)
	}
	v, ok := strings.CutPrefix(fields[2], "v")
	if !ok {
		return 0, "", fmt.Errorf("malformed header version %q", fields[2])
	}
	version, err = strconv.Atoi(v)
	if err != nil || strconv.Itoa(version) != v {
		return 0, "", fmt.Errorf("malformed header version %q", fields[2])
	}
	digest, ok = strings.CutPrefix(fields[3], "sha256=")
	if !ok || len(digest) != sha256.Size*2 {
		return 0, "", fmt.Errorf("malformed header digest %q", fields[3])
	}
	return version, digest, nil
}

// embeddedVersion reads schema_version, or version for v1 artifacts.
func embeddedVersion(body []byte) (int, error) {
	var probe struct {
		SchemaVersion *int `yaml:"schema_version"`
		Version       *int `yaml:"version"`
	}
	if err := yaml.Unmarshal(body, &probe); err != nil {
		return 0, err
	}
	switch {
	case probe.SchemaVersion != nil:
		return *probe.SchemaVersion, nil
	case probe.Version != nil:
		return *probe.Version, nil
	default:
		return 0, errNoVersion
	}
}
