// Command sim runs a synchronous in-process shuffle simulation and prints how
// the overlay evolves.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/ryandielhenn/cyclon/pkg/sim"
)

func main() {
	n := flag.Int("n", 1000, "number of nodes")
	degree := flag.Int("degree", 8, "target degree")
	initial := flag.Int("init", 8, "initial ring-lattice out-degree")
	rounds := flag.Int("rounds", 50, "rounds to run")
	every := flag.Int("every", 10, "print stats every N rounds")
	loss := flag.Float64("loss", 0, "message loss probability")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	c := sim.NewCluster(*n, *degree, *seed, sim.Options{Loss: *loss})
	c.Bootstrap(*initial)

	fmt.Printf("seed=%d nodes=%d degree=%d init=%d loss=%.2f\n", *seed, *n, *degree, *initial, *loss)
	printStats(0, sim.RoundStats{}, c.Stats())

	start := time.Now()
	var total sim.RoundStats
	for r := 1; r <= *rounds; r++ {
		rs := c.Round()
		total.Initiated += rs.Initiated
		total.Accepted += rs.Accepted
		total.Declined += rs.Declined
		total.Lost += rs.Lost
		if *every > 0 && (r%*every == 0 || r == *rounds) {
			printStats(r, rs, c.Stats())
		}
	}
	dur := time.Since(start)
	fmt.Printf("Completed %d rounds in %s: %d exchanges, %d accepted, %d declined, %d lost\n",
		*rounds, dur, total.Initiated, total.Accepted, total.Declined, total.Lost)
}

func printStats(round int, rs sim.RoundStats, s sim.Stats) {
	fmt.Printf("round=%-4d initiated=%-5d view[min=%d max=%d mean=%.2f] in-degree[mean=%.2f sd=%.2f] edges=%d self=%d isolated=%d\n",
		round, rs.Initiated, s.MinView, s.MaxView, s.MeanView, s.InDegreeMean, s.InDegreeStdDev, s.Edges, s.SelfLoops, s.Isolated)
}
