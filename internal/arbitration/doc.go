// Package arbitration decides which execution owns which channel.
//
// Requests are all-or-none. A higher priority request preempts every
// current owner of any channel it needs, and each preempted owner loses
// all of its channels at once. An equal or lower priority request is
// rejected with a *BusyError naming the owner that blocked it.
package arbitration
