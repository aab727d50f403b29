// generate.go
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
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/apple/foundationdb/fdbtracedebugger/api"
	"github.com/apple/foundationdb/fdbtracedebugger/internal/schema"
)

// Generate writes a repeating tree of sample contexts and messages until ctx
// is cancelled. Every round starts a new root-level background task with
// nested transaction and request contexts below it. interval is the pause
// between the plain log messages of a round.
func Generate(ctx context.Context, writer *Writer, interval time.Duration) error {
	for round := 0; ; round++ {
		err := generateRound(ctx, writer, round, interval)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func generateRound(ctx context.Context, writer *Writer, round int, interval time.Duration) error {
	task, err := writer.Context(schema.RootContextID, api.BackgroundTaskContext, api.ThisIsNormal, fmt.Sprintf("Context %d", round))
	if err != nil {
		return err
	}

	for step := 0; step < 10; step++ {
		err = writer.Log(task, api.ThisIsNormal, fmt.Sprintf("Log %d", step), "")
		if err != nil {
			return err
		}
		err = sleep(ctx, interval)
		if err != nil {
			return err
		}
	}

	transaction, err := writer.Context(task.ID, api.DatabaseTransactionContext, api.ThisIsNormal, fmt.Sprintf("Database transaction %d", round))
	if err != nil {
		return err
	}

	err = writer.Emit(api.DatabaseTransactionMessage, transaction, api.ImplementationDetail, func(record *schema.Writer, _ schema.BlobStore) error {
		schema.TransactionFields.Event.Put(record, uint8(api.TransactionOpen))
		return nil
	})
	if err != nil {
		return err
	}

	err = writer.Emit(api.DatabaseQueryMessage, transaction, api.ThisIsNormal, func(record *schema.Writer, blobs schema.BlobStore) error {
		schema.QueryFields.Parameters.Put(record, fmt.Sprintf(`{"round":%d}`, round))
		return schema.QueryFields.Query.PutOverflowing(record, "select * from fie.dog where round = :round", blobs)
	})
	if err != nil {
		return err
	}

	err = writer.Log(transaction, api.ThisIsNormal, "got a response from the database", "")
	if err != nil {
		return err
	}

	err = writer.Emit(api.DatabaseTransactionMessage, transaction, api.ImplementationDetail, func(record *schema.Writer, _ schema.BlobStore) error {
		schema.TransactionFields.Event.Put(record, uint8(api.TransactionCommit))
		return nil
	})
	if err != nil {
		return err
	}

	_, err = writer.Context(task.ID, api.BackgroundTaskContext, api.ThisIsNormal, "Singing cool stuff")
	if err != nil {
		return err
	}

	zipping, err := writer.Context(task.ID, api.BackgroundTaskContext, api.ThisIsNormal, "Zipping files")
	if err != nil {
		return err
	}

	_, err = writer.Context(zipping.ID, api.ServerRequestContext, api.ThisIsOdd, "No! I won't zip!")
	if err != nil {
		return err
	}

	accepted, err := writer.Context(zipping.ID, api.ServerRequestContext, api.ThisIsNormal, "OK! I will!")
	if err != nil {
		return err
	}

	return writer.Log(accepted, api.ThisIsNormal, "Finished!", strings.Repeat(fmt.Sprintf("zipped file %d; ", round), 20))
}

func sleep(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
