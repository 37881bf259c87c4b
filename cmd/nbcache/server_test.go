package main

import (
	"testing"

	"nb/internal/model"
)

func TestHashEntryIsOrderIndependentInDeps(t *testing.T) {
	a := &model.CacheEntry{
		Instance: "default", OutputPath: "out.o", CommandHash: "c1", OutputHash: "o1", InputHash: "i1",
		Deps: []*model.CacheDep{
			{FilePath: "b.h", FileHash: "hb"},
			{FilePath: "a.h", FileHash: "ha"},
		},
	}
	b := &model.CacheEntry{
		Instance: "default", OutputPath: "out.o", CommandHash: "c1", OutputHash: "o1", InputHash: "i1",
		Deps: []*model.CacheDep{
			{FilePath: "a.h", FileHash: "ha"},
			{FilePath: "b.h", FileHash: "hb"},
		},
	}
	if hashEntry(a) != hashEntry(b) {
		t.Fatal("hashEntry should not depend on the order deps were supplied in")
	}
}

func TestHashEntryDiffersWhenInputHashChanges(t *testing.T) {
	a := &model.CacheEntry{Instance: "default", OutputPath: "out.o", CommandHash: "c1", InputHash: "i1"}
	b := &model.CacheEntry{Instance: "default", OutputPath: "out.o", CommandHash: "c1", InputHash: "i2"}
	if hashEntry(a) == hashEntry(b) {
		t.Fatal("hashEntry should change when the recorded input hash changes")
	}
}
