// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package worker

import (
	"sync"
	"testing"

	"github.com/shoenig/test/must"

	"github.com/metalconductor/conductor/conductorerr"
)

func TestPool_SpawnRunsFn(t *testing.T) {
	p := New(4)
	done := make(chan struct{})
	must.NoError(t, p.Spawn(func() { close(done) }))
	<-done
	p.WaitAll()
	must.Eq(t, 0, p.Active())
}

func TestPool_RejectsWhenSaturated(t *testing.T) {
	p := New(1)
	block := make(chan struct{})
	release := make(chan struct{})

	must.NoError(t, p.Spawn(func() {
		close(block)
		<-release
	}))
	<-block

	err := p.Spawn(func() {})
	must.Error(t, err)
	must.Eq(t, conductorerr.NoFreeConductorWorker, conductorerr.KindOf(err))

	close(release)
	p.WaitAll()
}

func TestPool_SpawnIsSerializedUnderConcurrentCallers(t *testing.T) {
	p := New(2)
	var accepted, rejected int
	var mu sync.Mutex
	var wg sync.WaitGroup

	release := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Spawn(func() { <-release })
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
			} else {
				rejected++
			}
		}()
	}
	wg.Wait()

	must.Eq(t, 2, accepted)
	must.Eq(t, 18, rejected)
	close(release)
	p.WaitAll()
}

func TestPool_DefaultSize(t *testing.T) {
	p := New(0)
	must.Eq(t, 100, p.Size())
}
