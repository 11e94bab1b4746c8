// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"sync"
)

// commitEnv contains the DB callbacks the commit pipeline drives. The
// prepare and write callbacks are invoked serially, in commit order. The
// apply callback may be invoked concurrently for different batches. The
// publish callback is invoked in commit order.
type commitEnv struct {
	// prepare makes room for the batch, assigns its sequence numbers and
	// reserves memtable space, returning the memtable the batch will be
	// applied to.
	prepare func(b *Batch) (*memTable, error)

	// write appends the batch to the WAL, syncing it when requested.
	write func(b *Batch, syncWAL bool) error

	// apply adds the batch's entries to the memtable.
	apply func(b *Batch, mem *memTable) error

	// publish makes the batch's sequence numbers visible to readers.
	publish func(b *Batch)
}

// commitPipeline manages the stages of committing a batch: assigning
// sequence numbers, writing to the WAL, applying to the memtable and
// publishing the new visible sequence number.
//
// Preparation and the WAL append are serialized under the pipeline mutex,
// which gives batches their commit order. Memtable application then
// proceeds outside the mutex, concurrently with later commits. Because a
// batch may finish applying before an earlier one, publication is deferred
// until every earlier batch has been applied, keeping the visible sequence
// number free of gaps.
//
// A WAL write or sync failure poisons the pipeline: the error is sticky and
// every subsequent commit fails with it.
type commitPipeline struct {
	env commitEnv

	mu      sync.Mutex
	cond    sync.Cond
	pending []*Batch
	err     error
}

func (p *commitPipeline) init(env commitEnv) {
	p.env = env
	p.cond.L = &p.mu
}

// Commit writes the batch to the WAL, applies it to the memtable and makes
// it visible to readers.
func (p *commitPipeline) Commit(b *Batch, syncWAL bool) error {
	p.mu.Lock()
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return err
	}
	mem, err := p.env.prepare(b)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if err := p.env.write(b, syncWAL); err != nil {
		p.err = err
		p.mu.Unlock()
		return err
	}
	p.pending = append(p.pending, b)
	p.mu.Unlock()

	applyErr := p.env.apply(b, mem)

	p.mu.Lock()
	b.applied = true
	published := false
	for len(p.pending) > 0 && p.pending[0].applied {
		t := p.pending[0]
		p.pending = p.pending[1:]
		p.env.publish(t)
		t.published = true
		published = true
	}
	if published {
		p.cond.Broadcast()
	}
	for !b.published {
		p.cond.Wait()
	}
	p.mu.Unlock()
	return applyErr
}
