/*
	Package egraph holds the pieces shared by every layer of the execution graph
	store: leveled logging, store configuration, and the serialization format used
	for persisted pages.

	The graph model itself lives in the graph package and the backends under
	storage.
*/
package egraph
