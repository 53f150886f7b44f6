// Package orca implements Optimal Reciprocal Collision Avoidance for 2D
// crowd navigation. A Simulator owns a set of agents and static polygonal
// obstacles; each call to Run advances one tick in which every agent derives
// half-plane velocity constraints (ORCA lines) from its neighbors and solves
// a bounded linear program for the admissible velocity closest to its
// preferred velocity.
//
// The engine resolves local collisions only. Preferred velocities and goals
// are supplied by the caller every tick; global path planning is out of
// scope.
package orca
