// blob.go
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

package reader

import (
	"encoding/binary"
	"fmt"
	"os"
)

// ReadBlob returns the payload of the blob entry with the given id. Blob
// entries are a 4-byte length followed by the payload, and the id of an entry
// is its byte offset within the file.
func ReadBlob(dir string, generation int64, index int, id int32) ([]byte, error) {
	blobPath := BlobPath(dir, generation, index)
	file, err := os.Open(blobPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}

	if id < 0 || int64(id)+4 > info.Size() {
		return nil, fmt.Errorf("blob %d is outside of %s", id, blobPath)
	}

	var header [4]byte
	_, err = file.ReadAt(header[:], int64(id))
	if err != nil {
		return nil, err
	}

	length := int64(int32(binary.BigEndian.Uint32(header[:])))
	if length < 0 || int64(id)+4+length > info.Size() {
		return nil, fmt.Errorf("blob %d in %s has invalid length %d", id, blobPath, length)
	}

	payload := make([]byte, length)
	_, err = file.ReadAt(payload, int64(id)+4)
	if err != nil {
		return nil, err
	}

	return payload, nil
}
