/*
	Package graph models the execution of concurrent workers as a directed graph of
	timestamped vertices.

	Each worker owns a chronological chain of vertices.  Horizontal edges link
	consecutive vertices of one worker while vertical edges link vertices of two
	different workers, e.g., a wakeup or a network packet.  A worker's chain may be
	split into several segments when vertices are added without a horizontal edge.

	The Graph interface is implemented by several backends under the storage
	package.  They share the checks and derived queries in Base, so every backend
	enforces the same construction rules:

		- timestamps within a worker never decrease
		- horizontal edges join consecutive vertices of one worker and never a
		  vertex to itself
		- vertical edges join vertices of two different workers
		- a vertex has at most one incoming and one outgoing edge per direction

	Traversal (ScanLineTraverse) and aggregation (ComputeStatistics) only need the
	read side of a graph and work the same over any backend.
*/
package graph
