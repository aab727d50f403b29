// marker.go
//
// This source file is part of the FoundationDB open source project
//
// Copyright 2025 Apple Inc. and the FoundationDB project authors
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
//

package producer

import (
	"fmt"
	"os"
	"path"

	"github.com/apple/foundationdb/fdbtracedebugger/internal/reader"
	"github.com/bmatcuk/doublestar/v4"
)

const markerTempPattern = ".marker-"

// writeMarker announces a generation by writing its marker file. The file is
// written to a temporary file first and renamed into place so pollers never
// observe a partial marker.
func writeMarker(dir string, title string, generation int64) error {
	tempFile, err := os.CreateTemp(dir, markerTempPattern)
	if err != nil {
		return err
	}
	defer tempFile.Close()

	_, err = fmt.Fprintf(tempFile, "%s\n%d\n", title, generation)
	if err != nil {
		return err
	}

	err = tempFile.Close()
	if err != nil {
		return err
	}

	err = os.Chmod(tempFile.Name(), 0o644)
	if err != nil {
		return err
	}

	return os.Rename(tempFile.Name(), reader.MarkerPath(dir, generation))
}

// removeStaleTemp removes temporary marker files left behind by a crashed writer.
func removeStaleTemp(dir string) error {
	matches, err := doublestar.Glob(os.DirFS(dir), markerTempPattern+"*")
	if err != nil {
		return err
	}
	for _, match := range matches {
		err = os.Remove(path.Join(dir, match))
		if err != nil {
			return err
		}
	}
	return nil
}
