package memory

import (
	"context"
	"sync"
)

// Directory is an in-memory user and reference registry. An empty registry kind
// accepts every id, so a standalone deployment needs no external services.
type Directory struct {
	mu         sync.RWMutex
	users      map[string]struct{}
	categories map[string]struct{}
	courses    map[string]struct{}
	tags       map[string]struct{}
}

func NewDirectory() *Directory {
	return &Directory{
		users:      make(map[string]struct{}),
		categories: make(map[string]struct{}),
		courses:    make(map[string]struct{}),
		tags:       make(map[string]struct{}),
	}
}

func (d *Directory) AddUser(ids ...string)     { d.add(d.users, ids) }
func (d *Directory) AddCategory(ids ...string) { d.add(d.categories, ids) }
func (d *Directory) AddCourse(ids ...string)   { d.add(d.courses, ids) }
func (d *Directory) AddTag(ids ...string)      { d.add(d.tags, ids) }

func (d *Directory) UserExists(_ context.Context, id string) (bool, error) {
	return d.has(d.users, id), nil
}

func (d *Directory) CategoryExists(_ context.Context, id string) (bool, error) {
	return d.has(d.categories, id), nil
}

func (d *Directory) CourseExists(_ context.Context, id string) (bool, error) {
	return d.has(d.courses, id), nil
}

func (d *Directory) TagExists(_ context.Context, id string) (bool, error) {
	return d.has(d.tags, id), nil
}

func (d *Directory) add(set map[string]struct{}, ids []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

func (d *Directory) has(set map[string]struct{}, id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(set) == 0 {
		return true
	}
	_, ok := set[id]
	return ok
}
