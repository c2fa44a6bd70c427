// Copyright (c) 2021 - 2024 Fraunhofer AISEC
// Fraunhofer-Gesellschaft zur Foerderung der angewandten Forschung e.V.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"golang.org/x/exp/maps"

	log "github.com/sirupsen/logrus"

	"github.com/Fraunhofer-AISEC/snpverify/document"
	"github.com/Fraunhofer-AISEC/snpverify/engine"
	"github.com/Fraunhofer-AISEC/snpverify/measurement"
	"github.com/Fraunhofer-AISEC/snpverify/verifier"

	"github.com/invopop/jsonschema"
)

var (
	packages = map[string][]any{
		"document": {
			document.VerificationDocument{},
		},
		"measurement": {
			measurement.AttestationMeasurement{},
		},
		"verifier": {
			verifier.ReportPolicy{},
			verifier.AttestationDocument{},
		},
		"engine": {
			engine.Config{},
		},
	}
)

func main() {
	log.SetLevel(log.TraceLevel)

	pkg := flag.String("package", "",
		fmt.Sprintf("The golang package to generate JSON Schema definitions for. Possible: %v", maps.Keys(packages)))

	out := flag.String("out", "output", "The directory the schema definitions shall be written to")

	flag.Parse()

	objects, ok := packages[*pkg]
	if !ok {
		log.Fatalf("Target '%v' not found", *pkg)
	}

	err := generate(objects, filepath.Join(*out, *pkg))
	if err != nil {
		log.Fatal(err)
	}
}

func reflector() *jsonschema.Reflector {
	hexBytes := reflect.TypeOf(verifier.HexBytes{})
	return &jsonschema.Reflector{
		ExpandedStruct:            false,
		Anonymous:                 true,
		DoNotReference:            false,
		AllowAdditionalProperties: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == hexBytes {
				return &jsonschema.Schema{
					Type:    "string",
					Pattern: "^([0-9a-fA-F]{2})*$",
				}
			}
			return nil
		},
	}
}

func generate(objects []any, dir string) error {

	err := os.MkdirAll(dir, os.ModePerm)
	if err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}

	r := reflector()

	for _, o := range objects {
		schema := r.Reflect(o)
		data, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal: %w", err)
		}

		f := filepath.Join(dir, fmt.Sprintf("%v.json", getName(o)))

		log.Debugf("Writing %v", f)

		err = os.WriteFile(f, data, 0644)
		if err != nil {
			return fmt.Errorf("failed to write file: %w", err)
		}
	}

	return nil
}

func getName(v interface{}) string {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
