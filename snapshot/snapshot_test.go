package snapshot

import (
	"reflect"
	"testing"
	"time"

	"github.com/fieldline/fieldline/store"
)

func jobWithTasks(done, total int) *store.Job {
	j := &store.Job{ID: "job_1", Title: "Boiler service", UpdatedAt: time.Now()}
	for i := 0; i < total; i++ {
		j.Tasks = append(j.Tasks, store.Task{
			ID:       "tsk_" + string(rune('a'+i)),
			Label:    "step",
			Done:     i < done,
			Position: i + 1,
		})
	}
	return j
}

func TestEmptyJob(t *testing.T) {
	snap := Project(jobWithTasks(0, 0))
	if snap.ProgressPercent != 0 {
		t.Fatalf("progress = %d, want 0", snap.ProgressPercent)
	}
	if snap.AllCompleted {
		t.Fatal("a job with zero tasks is never all-completed")
	}
	if snap.TotalTasks != 0 || snap.CompletedTasks != 0 {
		t.Fatalf("counts = %d/%d, want 0/0", snap.CompletedTasks, snap.TotalTasks)
	}
}

func TestProgressRounding(t *testing.T) {
	cases := []struct {
		done, total, want int
	}{
		{0, 4, 0},
		{2, 4, 50},
		{4, 4, 100},
		{1, 3, 33},
		{2, 3, 67},
		{1, 8, 13}, // 12.5 rounds half-up
		{1, 6, 17}, // 16.66...
		{5, 6, 83},
	}
	for _, c := range cases {
		snap := Project(jobWithTasks(c.done, c.total))
		if snap.ProgressPercent != c.want {
			t.Errorf("%d/%d: progress = %d, want %d", c.done, c.total, snap.ProgressPercent, c.want)
		}
		if snap.CompletedTasks > snap.TotalTasks {
			t.Errorf("%d/%d: completed exceeds total", c.done, c.total)
		}
	}
}

func TestAllCompleted(t *testing.T) {
	if snap := Project(jobWithTasks(3, 4)); snap.AllCompleted {
		t.Fatal("3/4 must not be all-completed")
	}
	if snap := Project(jobWithTasks(4, 4)); !snap.AllCompleted {
		t.Fatal("4/4 must be all-completed")
	}
}

func TestTasksKeepCreationOrder(t *testing.T) {
	j := &store.Job{ID: "job_1"}
	// Completed task first — must not be re-sorted by completion state.
	j.Tasks = []store.Task{
		{ID: "tsk_1", Position: 1, Done: true},
		{ID: "tsk_2", Position: 2, Done: false},
		{ID: "tsk_3", Position: 3, Done: true},
	}
	snap := Project(j)
	var ids []string
	for _, tv := range snap.Tasks {
		ids = append(ids, tv.ID)
	}
	if !reflect.DeepEqual(ids, []string{"tsk_1", "tsk_2", "tsk_3"}) {
		t.Fatalf("task order = %v", ids)
	}
}

func TestNotesNewestFirstStableTies(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	j := &store.Job{ID: "job_1", Notes: []store.Note{
		{ID: "not_1", CreatedAt: t0},
		{ID: "not_2", CreatedAt: t1},
		{ID: "not_3", CreatedAt: t1}, // same instant as not_2
		{ID: "not_4", CreatedAt: t0.Add(30 * time.Minute)},
	}}
	snap := Project(j)
	var ids []string
	for _, nv := range snap.Notes {
		ids = append(ids, nv.ID)
	}
	// Newest first; not_2 before not_3 because insertion order breaks the tie.
	want := []string{"not_2", "not_3", "not_4", "not_1"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("note order = %v, want %v", ids, want)
	}
}

func TestProjectIsIdempotent(t *testing.T) {
	j := jobWithTasks(2, 5)
	j.Notes = []store.Note{
		{ID: "not_1", Body: "arrived on site", CreatedAt: time.Now()},
	}
	a := Project(j)
	b := Project(j)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("two projections of the same job differ:\n%+v\n%+v", a, b)
	}
}

func TestProjectDoesNotMutateJob(t *testing.T) {
	j := jobWithTasks(1, 2)
	j.Notes = []store.Note{
		{ID: "not_1", CreatedAt: time.Unix(200, 0)},
		{ID: "not_2", CreatedAt: time.Unix(100, 0)},
	}
	Project(j)
	if j.Notes[0].ID != "not_1" {
		t.Fatal("projector reordered the job's own note slice")
	}
}
