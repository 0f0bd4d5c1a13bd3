package buffer

import (
	"fmt"
	"testing"
)

// BenchmarkRing_Write measures steady-state appends, which is what the
// monitor does once per check interval forever.
func BenchmarkRing_Write(b *testing.B) {
	for _, policy := range []DropPolicy{DropOldest, DropNewest} {
		b.Run(policy.String(), func(b *testing.B) {
			r, err := NewRing[int](100, WithPolicy(policy))
			if err != nil {
				b.Fatal(err)
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				r.Write(i)
			}
		})
	}
}

// BenchmarkRing_Items measures the snapshot copy taken on every history
// query.
func BenchmarkRing_Items(b *testing.B) {
	for _, capacity := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("Cap_%d", capacity), func(b *testing.B) {
			r, err := NewRing[int](capacity)
			if err != nil {
				b.Fatal(err)
			}
			for i := 0; i < capacity; i++ {
				r.Write(i)
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = r.Items()
			}
		})
	}
}

// BenchmarkRing_WriteContended measures appenders racing with a reader,
// the shape of a busy monitor serving history queries.
func BenchmarkRing_WriteContended(b *testing.B) {
	r, err := NewRing[int](1000)
	if err != nil {
		b.Fatal(err)
	}

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if i%8 == 0 {
				_ = r.Items()
			} else {
				r.Write(i)
			}
			i++
		}
	})
}
