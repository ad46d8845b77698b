package processing

import (
	"slices"
	"sync"
)

// The collected series has no size cap: a session keeps every accepted sample in memory
// until the process exits.

// DataSampleStore is the handoff between the acquisition worker and the periodic sampler.
// Publish is called by the worker only, DrainNew by the sampler only.
type DataSampleStore struct {
	collected   []Sample
	pending     []Sample
	sampleMutex sync.Mutex
}

func NewDataSampleStore() *DataSampleStore {
	return &DataSampleStore{}
}

// Publish appends to the collected series and the pending batch in one step.
func (d *DataSampleStore) Publish(sample Sample) {
	d.sampleMutex.Lock()
	defer d.sampleMutex.Unlock()

	d.collected = append(d.collected, sample)
	d.pending = append(d.pending, sample)
}

// DrainNew takes every sample published since the previous drain, oldest first.
func (d *DataSampleStore) DrainNew() []Sample {
	d.sampleMutex.Lock()
	defer d.sampleMutex.Unlock()

	batch := d.pending
	d.pending = nil
	return batch
}

// CollectedSoFar returns a copy of the collected series.
func (d *DataSampleStore) CollectedSoFar() []Sample {
	d.sampleMutex.Lock()
	defer d.sampleMutex.Unlock()

	return slices.Clone(d.collected)
}

func (d *DataSampleStore) Len() int {
	d.sampleMutex.Lock()
	defer d.sampleMutex.Unlock()

	return len(d.collected)
}
