// Package mixer хранит связи смешивания между каналами и суммирует их аудио.
//
// Table не владеет каналами: узлы это идентификаторы каналов, ребра это
// неупорядоченные пары. Каналы одной компоненты связности слышат друг друга,
// что даёт групповое смешивание (конференцию) без отдельной сущности.
// Изменения ставятся в очередь и применяются между тиками вызовом Apply,
// поэтому внутри тика все каналы видят один и тот же снимок связей.
package mixer

import (
	"sort"
	"sync"

	"github.com/arzzra/rtpengine/pkg/codec"
)

// ID идентификатор узла таблицы
type ID = string

type opKind int

const (
	opMix opKind = iota
	opUnmix
	opUnmixAll
	opRemove
)

type op struct {
	kind opKind
	a, b ID
}

type edge struct {
	a, b ID
}

func newEdge(a, b ID) edge {
	if b < a {
		a, b = b, a
	}
	return edge{a: a, b: b}
}

// Table таблица связей смешивания
type Table struct {
	edges   map[edge]struct{}
	adj     map[ID]map[ID]struct{}
	pending []op
	mutex   sync.Mutex
}

// NewTable создает пустую таблицу
func NewTable() *Table {
	return &Table{
		edges: make(map[edge]struct{}),
		adj:   make(map[ID]map[ID]struct{}),
	}
}

// Mix ставит в очередь связь a-b
func (t *Table) Mix(a, b ID) {
	if a == b {
		return
	}
	t.enqueue(op{kind: opMix, a: a, b: b})
}

// Unmix ставит в очередь удаление связи a-b
func (t *Table) Unmix(a, b ID) {
	t.enqueue(op{kind: opUnmix, a: a, b: b})
}

// UnmixAll ставит в очередь удаление всех связей a
func (t *Table) UnmixAll(a ID) {
	t.enqueue(op{kind: opUnmixAll, a: a})
}

// Remove ставит в очередь удаление узла при закрытии канала
func (t *Table) Remove(a ID) {
	t.enqueue(op{kind: opRemove, a: a})
}

func (t *Table) enqueue(o op) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.pending = append(t.pending, o)
}

// Change изменение состояния смешивания узла после Apply
type Change struct {
	ID      ID
	Started bool // Узел стал смешанным
	Removed bool // Узел удалён из таблицы вместе со связями
}

// Apply применяет накопленные изменения и возвращает узлы, у которых
// состояние "смешан" изменилось. Порядок результата детерминирован.
func (t *Table) Apply() []Change {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if len(t.pending) == 0 {
		return nil
	}

	touched := make(map[ID]bool) // узел -> был ли смешан до Apply
	removed := make(map[ID]bool)
	touch := func(id ID) {
		if _, ok := touched[id]; !ok {
			touched[id] = len(t.adj[id]) > 0
		}
	}

	for _, o := range t.pending {
		switch o.kind {
		case opMix:
			if removed[o.a] || removed[o.b] {
				continue
			}
			touch(o.a)
			touch(o.b)
			t.link(o.a, o.b)
		case opUnmix:
			touch(o.a)
			touch(o.b)
			t.unlink(o.a, o.b)
		case opUnmixAll, opRemove:
			touch(o.a)
			for peer := range t.adj[o.a] {
				touch(peer)
				t.unlink(o.a, peer)
			}
			if o.kind == opRemove {
				removed[o.a] = true
			}
		}
	}
	t.pending = nil

	ids := make([]ID, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var changes []Change
	for _, id := range ids {
		was := touched[id]
		now := len(t.adj[id]) > 0
		if was != now {
			changes = append(changes, Change{ID: id, Started: now, Removed: removed[id]})
		}
	}
	return changes
}

func (t *Table) link(a, b ID) {
	t.edges[newEdge(a, b)] = struct{}{}
	if t.adj[a] == nil {
		t.adj[a] = make(map[ID]struct{})
	}
	if t.adj[b] == nil {
		t.adj[b] = make(map[ID]struct{})
	}
	t.adj[a][b] = struct{}{}
	t.adj[b][a] = struct{}{}
}

func (t *Table) unlink(a, b ID) {
	delete(t.edges, newEdge(a, b))
	delete(t.adj[a], b)
	delete(t.adj[b], a)
	if len(t.adj[a]) == 0 {
		delete(t.adj, a)
	}
	if len(t.adj[b]) == 0 {
		delete(t.adj, b)
	}
}

// Linked проверяет наличие прямой связи a-b
func (t *Table) Linked(a, b ID) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	_, ok := t.edges[newEdge(a, b)]
	return ok
}

// Mixed проверяет, есть ли у узла хотя бы одна связь
func (t *Table) Mixed(a ID) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return len(t.adj[a]) > 0
}

// Peers возвращает остальных участников компоненты связности a, отсортированных по ID
func (t *Table) Peers(a ID) []ID {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if len(t.adj[a]) == 0 {
		return nil
	}

	seen := map[ID]bool{a: true}
	queue := []ID{a}
	var peers []ID
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range t.adj[cur] {
			if seen[next] {
				continue
			}
			seen[next] = true
			peers = append(peers, next)
			queue = append(queue, next)
		}
	}

	sort.Strings(peers)
	return peers
}

// Sum суммирует кадры с насыщением в dst. dst предварительно обнуляется.
func Sum(dst []int16, frames ...[]int16) {
	for i := range dst {
		dst[i] = 0
	}
	for _, f := range frames {
		codec.AddSaturate(dst, f)
	}
}
