package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/johnrirwin/feedwatch/internal/models"
)

func TestMemoryStore_GetMissing(t *testing.T) {
	store := NewMemory()

	var settings models.Settings
	found, err := store.Get(context.Background(), KeySettings, &settings)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Error("Get() found = true for a missing key")
	}
}

func TestMemoryStore_SetAndGet(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	saved := models.Settings{UpdatePeriodMinutes: 45}
	if err := store.Set(ctx, KeySettings, saved); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var loaded models.Settings
	found, err := store.Get(ctx, KeySettings, &loaded)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found {
		t.Fatal("Get() found = false after Set()")
	}
	if loaded.UpdatePeriodMinutes != 45 {
		t.Errorf("UpdatePeriodMinutes = %d, want 45", loaded.UpdatePeriodMinutes)
	}
}

func TestMemoryStore_SetOverwrites(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	store.Set(ctx, KeySettings, models.Settings{UpdatePeriodMinutes: 30})
	store.Set(ctx, KeySettings, models.Settings{UpdatePeriodMinutes: 60})

	var loaded models.Settings
	store.Get(ctx, KeySettings, &loaded)
	if loaded.UpdatePeriodMinutes != 60 {
		t.Errorf("UpdatePeriodMinutes = %d, want the overwritten value 60", loaded.UpdatePeriodMinutes)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	store.Set(ctx, KeyUnreadPosts, []models.Post{{ID: "t3_one"}})
	if err := store.Delete(ctx, KeyUnreadPosts); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	var posts []models.Post
	found, _ := store.Get(ctx, KeyUnreadPosts, &posts)
	if found {
		t.Error("Get() found = true after Delete()")
	}

	// Deleting a missing key is fine.
	if err := store.Delete(ctx, "never-set"); err != nil {
		t.Errorf("Delete() of a missing key error = %v", err)
	}
}

func TestMemoryStore_StoresCopy(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	posts := []models.Post{{ID: "t3_one", Title: "Original"}}
	store.Set(ctx, KeyUnreadPosts, posts)
	posts[0].Title = "Mutated"

	var loaded []models.Post
	store.Get(ctx, KeyUnreadPosts, &loaded)
	if loaded[0].Title != "Original" {
		t.Error("stored value must not alias the caller's slice")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				store.Set(ctx, KeySettings, models.Settings{UpdatePeriodMinutes: n})
				var s models.Settings
				store.Get(ctx, KeySettings, &s)
			}
		}(i)
	}

	wg.Wait()
}
