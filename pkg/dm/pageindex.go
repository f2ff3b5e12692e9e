package dm

import (
	"sync"

	"github.com/burrowdb/burrow/pkg/pcache"
	"github.com/burrowdb/burrow/pkg/types"
)

// pageIndex buckets pages by how much free space they have, so the
// insert path finds a fitting page without scanning the file. Bucket k
// holds pages whose free bytes divide to k by the bucket width; a page
// pulled by Select is owned exclusively by the caller until re-added
// with its new free space.
const (
	intervals = 40
	threshold = types.PageSize / intervals
)

type pageInfo struct {
	pgno types.PageNo
	free int
}

type pageIndex struct {
	mu      sync.Mutex
	buckets [intervals + 1][]pageInfo
}

func newPageIndex() *pageIndex {
	return &pageIndex{}
}

// Add files a page under its free-space bucket.
func (pi *pageIndex) Add(pgno types.PageNo, free int) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	k := free / threshold
	pi.buckets[k] = append(pi.buckets[k], pageInfo{pgno: pgno, free: free})
}

// Select pops the first page holding at least need bytes, or false if
// none does. The scan starts at need's own bucket — it can contain
// fitting pages alongside smaller ones, so each candidate's recorded
// free space is checked before it is handed out.
func (pi *pageIndex) Select(need int) (pageInfo, bool) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	k := need / threshold
	if k > intervals {
		return pageInfo{}, false
	}
	for ; k <= intervals; k++ {
		bucket := pi.buckets[k]
		for i := range bucket {
			if bucket[i].free < need {
				continue
			}
			info := bucket[i]
			pi.buckets[k] = append(bucket[:i], bucket[i+1:]...)
			return info, true
		}
	}
	return pageInfo{}, false
}

// addPage files a pinned page under its current free space.
func (pi *pageIndex) addPage(p *pcache.Page) {
	pi.Add(p.PageNo(), pcache.FreeSpace(p))
}
