package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// artifactSchema describes the subset of an app's artifact.json we read.
const artifactSchema = `{
  "type": "object",
  "required": ["abi"],
  "properties": {
    "appName": {"type": "string", "minLength": 1},
    "version": {"type": "string", "format": "semver"},
    "roles": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "string", "pattern": "^[A-Za-z0-9_]+$"},
          "name": {"type": "string"},
          "bytes": {"type": "string", "pattern": "^0x[0-9a-fA-F]{64}$"}
        }
      }
    },
    "abi": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type"]
      }
    }
  }
}`

const maxArtifactSize = 4 << 20

var (
	artifactOnce      sync.Once
	artifactValidator *jsonschema.Schema
	artifactErr       error
)

func compiledArtifactSchema() (*jsonschema.Schema, error) {
	artifactOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true
		if compiler.Formats == nil {
			compiler.Formats = make(map[string]func(interface{}) bool)
		}
		compiler.Formats["semver"] = func(v interface{}) bool {
			s, ok := v.(string)
			if !ok {
				return true
			}
			return IsValidVersion(s)
		}
		// Only the embedded schema may be loaded.
		compiler.LoadURL = func(url string) (io.ReadCloser, error) {
			return nil, fmt.Errorf("remote $ref not allowed: %s", url)
		}

		const url = "schema://artifact.json"
		if err := compiler.AddResource(url, strings.NewReader(artifactSchema)); err != nil {
			artifactErr = err
			return
		}
		artifactValidator, artifactErr = compiler.Compile(url)
	})
	return artifactValidator, artifactErr
}

// Artifact is a parsed and validated artifact.json.
type Artifact struct {
	AppName string
	Version string
	ABI     *abi.ABI
	Roles   []Role
}

type rawArtifact struct {
	AppName string          `json:"appName"`
	Version string          `json:"version"`
	ABI     json.RawMessage `json:"abi"`
	Roles   []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Bytes string `json:"bytes"`
	} `json:"roles"`
}

// ParseArtifact validates data against the artifact schema and decodes it.
func ParseArtifact(data []byte) (*Artifact, error) {
	if len(data) > maxArtifactSize {
		return nil, fmt.Errorf("artifact too large: %d bytes (max: %d)", len(data), maxArtifactSize)
	}

	schema, err := compiledArtifactSchema()
	if err != nil {
		return nil, fmt.Errorf("artifact schema: %w", err)
	}

	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("artifact is not JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid artifact: %w", err)
	}

	var raw rawArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	parsed, err := abi.JSON(bytes.NewReader(raw.ABI))
	if err != nil {
		return nil, fmt.Errorf("artifact abi: %w", err)
	}

	a := &Artifact{AppName: raw.AppName, Version: raw.Version, ABI: &parsed}
	for _, r := range raw.Roles {
		hash := crypto.Keccak256Hash([]byte(r.ID))
		if r.Bytes != "" {
			hash = common.BytesToHash(hexutil.MustDecode(r.Bytes))
		}
		a.Roles = append(a.Roles, Role{ID: r.ID, Name: r.Name, Hash: hash})
	}
	return a, nil
}
