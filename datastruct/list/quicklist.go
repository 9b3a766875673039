package list

import "container/list"

// pageSize must be even
const pageSize = 1024

// QuickList is a linked list of pages (which type is [][]byte).
// Compared with a plain linked list it has better locality for Range and
// lower per-element memory overhead.
type QuickList struct {
	data *list.List // list of [][]byte
	size int
}

// iterator of QuickList, moves between [-1, ql.Len()]
type iterator struct {
	node   *list.Element
	offset int
	ql     *QuickList
}

// Make creates an empty QuickList
func Make() *QuickList {
	return &QuickList{
		data: list.New(),
	}
}

// PushTail adds value to the tail
func (ql *QuickList) PushTail(val []byte) {
	ql.size++
	if ql.data.Len() == 0 { // empty list
		page := make([][]byte, 0, pageSize)
		page = append(page, val)
		ql.data.PushBack(page)
		return
	}
	backNode := ql.data.Back()
	backPage := backNode.Value.([][]byte)
	if len(backPage) == cap(backPage) { // full page, create new page
		page := make([][]byte, 0, pageSize)
		page = append(page, val)
		ql.data.PushBack(page)
		return
	}
	backPage = append(backPage, val)
	backNode.Value = backPage
}

// PushHead adds value to the head
func (ql *QuickList) PushHead(val []byte) {
	ql.size++
	if ql.data.Len() == 0 {
		page := make([][]byte, 0, pageSize)
		page = append(page, val)
		ql.data.PushFront(page)
		return
	}
	frontNode := ql.data.Front()
	frontPage := frontNode.Value.([][]byte)
	if len(frontPage) == cap(frontPage) { // full page, create new page
		page := make([][]byte, 0, pageSize)
		page = append(page, val)
		ql.data.PushFront(page)
		return
	}
	frontPage = append(frontPage, nil)
	copy(frontPage[1:], frontPage)
	frontPage[0] = val
	frontNode.Value = frontPage
}

// find returns page and in-page-offset of given index
func (ql *QuickList) find(index int) *iterator {
	if ql == nil {
		panic("list is nil")
	}
	if index < 0 || index >= ql.size {
		panic("index out of bound")
	}
	var n *list.Element
	var page [][]byte
	var pageBeg int
	if index < ql.size/2 {
		// search from front
		n = ql.data.Front()
		pageBeg = 0
		for {
			page = n.Value.([][]byte)
			if pageBeg+len(page) > index {
				break
			}
			pageBeg += len(page)
			n = n.Next()
		}
	} else {
		// search from back
		n = ql.data.Back()
		pageBeg = ql.size
		for {
			page = n.Value.([][]byte)
			pageBeg -= len(page)
			if pageBeg <= index {
				break
			}
			n = n.Prev()
		}
	}
	pageOffset := index - pageBeg
	return &iterator{
		node:   n,
		offset: pageOffset,
		ql:     ql,
	}
}

func (iter *iterator) get() []byte {
	return iter.page()[iter.offset]
}

func (iter *iterator) page() [][]byte {
	return iter.node.Value.([][]byte)
}

// next returns whether iter is in bound
func (iter *iterator) next() bool {
	page := iter.page()
	if iter.offset < len(page)-1 {
		iter.offset++
		return true
	}
	if iter.node == iter.ql.data.Back() {
		iter.offset = len(page)
		return false
	}
	iter.offset = 0
	iter.node = iter.node.Next()
	return true
}

func (iter *iterator) atEnd() bool {
	if iter.ql.data.Len() == 0 {
		return true
	}
	if iter.node != iter.ql.data.Back() {
		return false
	}
	page := iter.page()
	return iter.offset == len(page)
}

// Get returns value at the given index
func (ql *QuickList) Get(index int) (val []byte) {
	iter := ql.find(index)
	return iter.get()
}

func (iter *iterator) set(val []byte) {
	page := iter.page()
	page[iter.offset] = val
}

// Set updates value at the given index, the index should between [0, list.size)
func (ql *QuickList) Set(index int, val []byte) {
	iter := ql.find(index)
	iter.set(val)
}

func (iter *iterator) remove() []byte {
	page := iter.page()
	val := page[iter.offset]
	page = append(page[:iter.offset], page[iter.offset+1:]...)
	if len(page) > 0 {
		iter.node.Value = page
		if iter.offset == len(page) {
			if iter.node != iter.ql.data.Back() {
				iter.node = iter.node.Next()
				iter.offset = 0
			}
		}
	} else {
		if iter.node == iter.ql.data.Back() {
			// removed the last element, list is empty now
			iter.ql.data.Remove(iter.node)
			iter.node = nil
			iter.offset = 0
		} else {
			nextNode := iter.node.Next()
			iter.ql.data.Remove(iter.node)
			iter.node = nextNode
			iter.offset = 0
		}
	}
	iter.ql.size--
	return val
}

// PopHead removes the first element and returns its value, nil if empty
func (ql *QuickList) PopHead() []byte {
	if ql.size == 0 {
		return nil
	}
	iter := ql.find(0)
	return iter.remove()
}

// PopTail removes the last element and returns its value, nil if empty
func (ql *QuickList) PopTail() []byte {
	if ql.size == 0 {
		return nil
	}
	ql.size--
	lastNode := ql.data.Back()
	lastPage := lastNode.Value.([][]byte)
	if len(lastPage) == 1 {
		ql.data.Remove(lastNode)
		return lastPage[0]
	}
	val := lastPage[len(lastPage)-1]
	lastPage = lastPage[:len(lastPage)-1]
	lastNode.Value = lastPage
	return val
}

// Len returns the number of elements in list
func (ql *QuickList) Len() int {
	return ql.size
}

// ForEach visits each element in the list,
// if the consumer returns false the loop breaks
func (ql *QuickList) ForEach(consumer func(i int, val []byte) bool) {
	if ql == nil {
		panic("list is nil")
	}
	if ql.Len() == 0 {
		return
	}
	iter := ql.find(0)
	i := 0
	for {
		goNext := consumer(i, iter.get())
		if !goNext {
			break
		}
		i++
		if !iter.next() {
			break
		}
	}
}

// Range returns elements which index within [start, stop)
func (ql *QuickList) Range(start int, stop int) [][]byte {
	if start < 0 || start >= ql.Len() {
		panic("`start` out of range")
	}
	if stop < start || stop > ql.Len() {
		panic("`stop` out of range")
	}
	sliceSize := stop - start
	slice := make([][]byte, 0, sliceSize)
	iter := ql.find(start)
	i := 0
	for i < sliceSize {
		slice = append(slice, iter.get())
		iter.next()
		i++
	}
	return slice
}
